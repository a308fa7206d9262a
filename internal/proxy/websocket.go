// Package proxy relays a DevTools websocket between an API client and the
// browser of an active run.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Resolver finds the debugging endpoint of a run
type Resolver interface {
	DebugEndpoint(runID string) (driver.Endpoint, error)
}

// Server proxies debug connections
type Server struct {
	runs       Resolver
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        logrus.FieldLogger
}

// NewServer creates a proxy server
func NewServer(runs Resolver, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		runs:       runs,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer:     websocket.DefaultDialer,
		log:        log,
	}
}

// BrowserURL asks the browser at ep for its websocket debugger URL. The host
// Chrome reports is replaced by ep's so the URL is reachable from here.
func (s *Server) BrowserURL(ctx context.Context, ep driver.Endpoint) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.HTTPURL()+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", ep.Address(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	raw := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if raw == "" {
		return "", fmt.Errorf("browser at %s reported no webSocketDebuggerUrl", ep.Address())
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse debugger url: %w", err)
	}
	u.Host = net.JoinHostPort(ep.Host, fmt.Sprint(ep.Port))
	return u.String(), nil
}

// HandleDebugConnection upgrades the request and relays frames both ways
// until either side closes
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, runID string) {
	log := s.log.WithField("run_id", runID)

	ep, err := s.runs.DebugEndpoint(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	browserURL, err := s.BrowserURL(ctx, ep)
	if err != nil {
		log.WithError(err).Warn("debug endpoint unavailable")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	browserConn, _, err := s.dialer.DialContext(ctx, browserURL, nil)
	if err != nil {
		log.WithError(err).Warn("failed to connect to browser")
		http.Error(w, "failed to connect to browser: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer browserConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade connection")
		return
	}
	defer clientConn.Close()

	log.WithField("browser", browserURL).Info("debug client connected")

	errChan := make(chan error, 2)
	go func() {
		errChan <- s.proxyMessages(clientConn, browserConn, "client→browser", log)
	}()
	go func() {
		errChan <- s.proxyMessages(browserConn, clientConn, "browser→client", log)
	}()

	err = <-errChan
	if err != nil && err != io.EOF && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		log.WithError(err).Debug("proxy closed")
	}
	log.Info("debug client disconnected")
}

func (s *Server) proxyMessages(src, dst *websocket.Conn, direction string, log logrus.FieldLogger) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.WithError(err).Warnf("websocket error (%s)", direction)
			}
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			log.WithError(err).Warnf("failed to write message (%s)", direction)
			return err
		}
	}
}
