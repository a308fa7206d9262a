package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
)

type resolver map[string]driver.Endpoint

func (r resolver) DebugEndpoint(id string) (driver.Endpoint, error) {
	ep, ok := r[id]
	if !ok {
		return driver.Endpoint{}, errors.New("run not found")
	}
	return ep, nil
}

// fakeBrowser serves /json/version and echoes websocket frames. It reports
// an unreachable host so tests see the rewrite.
func fakeBrowser(t *testing.T) (*httptest.Server, driver.Endpoint) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Browser":"Chrome/120","webSocketDebuggerUrl":"ws://127.0.0.1:1/devtools/browser/abc"}`)
	})
	mux.HandleFunc("/devtools/browser/abc", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte("echo:"), msg...)); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return srv, driver.Endpoint{Host: host, Port: port}
}

func TestBrowserURLRewritesHost(t *testing.T) {
	_, ep := fakeBrowser(t)
	s := NewServer(resolver{}, nil)

	u, err := s.BrowserURL(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, "ws://"+ep.Address()+"/devtools/browser/abc", u)
}

func TestBrowserURLMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Browser":"Chrome/120"}`)
	}))
	defer srv.Close()
	host, portStr, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	port, _ := strconv.Atoi(portStr)

	_, err := NewServer(resolver{}, nil).BrowserURL(context.Background(), driver.Endpoint{Host: host, Port: port})
	assert.ErrorContains(t, err, "webSocketDebuggerUrl")
}

func TestHandleDebugConnectionRelays(t *testing.T) {
	_, ep := fakeBrowser(t)
	s := NewServer(resolver{"run-1": ep}, nil)

	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.HandleDebugConnection(w, r, "run-1")
	}))
	defer front.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(front.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"method":"Target.getTargets"}`)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `echo:{"id":1,"method":"Target.getTargets"}`, string(msg))
}

func TestHandleDebugConnectionUnknownRun(t *testing.T) {
	s := NewServer(resolver{}, nil)
	rec := httptest.NewRecorder()
	s.HandleDebugConnection(rec, httptest.NewRequest("GET", "/v1/runs/x/ws", nil), "x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
