package cdpdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
)

// devtoolsMessage is a command as sent by the client
type devtoolsMessage struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

func (m devtoolsMessage) params() map[string]any {
	out := map[string]any{}
	if len(m.Params) > 0 {
		_ = json.Unmarshal(m.Params, &out)
	}
	return out
}

// devtoolsServer answers DevTools commands with canned results and keeps
// every command it receives.
type devtoolsServer struct {
	srv      *httptest.Server
	targets  []map[string]any
	contexts []string

	mu       sync.Mutex
	received []devtoolsMessage
	pages    int
}

func newDevtoolsServer(t *testing.T, targets []map[string]any, contexts []string) *devtoolsServer {
	t.Helper()
	s := &devtoolsServer{targets: targets, contexts: contexts}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "HeadlessChrome/120.0.0.0",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/farm",
		})
	})
	mux.HandleFunc("/", s.serveWebSocket)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *devtoolsServer) endpoint(t *testing.T) driver.Endpoint {
	t.Helper()
	host, port, err := net.SplitHostPort(s.srv.Listener.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return driver.Endpoint{Host: host, Port: n}
}

func (s *devtoolsServer) attach(t *testing.T) *Session {
	t.Helper()
	sess, err := New(Options{DefaultTimeout: 5 * time.Second}).Attach(callContext(t), s.endpoint(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Quit(context.Background()) })
	return sess.(*Session)
}

var devtoolsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *devtoolsServer) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := devtoolsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg devtoolsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}

		reply := map[string]any{"id": msg.ID, "result": s.handle(msg)}
		if msg.SessionID != "" {
			reply["sessionId"] = msg.SessionID
		}
		out, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

func (s *devtoolsServer) handle(msg devtoolsMessage) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	params := msg.params()

	switch msg.Method {
	case "Target.getTargets":
		return map[string]any{"targetInfos": s.targets}
	case "Target.getBrowserContexts":
		return map[string]any{"browserContextIds": s.contexts}
	case "Target.createBrowserContext":
		return map[string]any{"browserContextId": fmt.Sprintf("CTX-%d", len(s.received))}
	case "Target.createTarget":
		s.pages++
		return map[string]any{"targetId": fmt.Sprintf("PAGE-%d", s.pages)}
	case "Target.attachToTarget":
		id, _ := params["targetId"].(string)
		return map[string]any{"sessionId": "S-" + id}
	case "Target.getTargetInfo":
		id, _ := params["targetId"].(string)
		return map[string]any{"targetInfo": pageTarget(id, "")}
	case "Page.getFrameTree":
		return map[string]any{"frameTree": map[string]any{
			"frame": map[string]any{"id": "F-" + msg.SessionID, "loaderId": "L-1", "url": "about:blank"},
		}}
	case "DOM.getDocument":
		return map[string]any{"root": map[string]any{
			"nodeId": 1, "backendNodeId": 1, "nodeType": 9,
			"nodeName": "#document", "localName": "", "nodeValue": "",
		}}
	case "Page.addScriptToEvaluateOnNewDocument":
		return map[string]any{"identifier": strconv.Itoa(len(s.received))}
	}
	return map[string]any{}
}

// commands returns the received commands named method, in arrival order.
func (s *devtoolsServer) commands(method string) []devtoolsMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []devtoolsMessage
	for _, msg := range s.received {
		if msg.Method == method {
			out = append(out, msg)
		}
	}
	return out
}

func pageTarget(id, browserContextID string) map[string]any {
	return map[string]any{
		"targetId":         id,
		"type":             "page",
		"title":            "",
		"url":              "about:blank",
		"attached":         false,
		"canAccessOpener":  false,
		"browserContextId": browserContextID,
	}
}

func callContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestContextsOrderAndDefault(t *testing.T) {
	worker := pageTarget("W-1", "CTX-A")
	worker["type"] = "service_worker"

	stub := newDevtoolsServer(t, []map[string]any{
		pageTarget("T-1", "CTX-DEFAULT"),
		worker,
		pageTarget("T-2", "CTX-A"),
		pageTarget("T-3", "CTX-DEFAULT"),
	}, []string{"CTX-A", "CTX-EMPTY"})
	s := stub.attach(t)

	contexts, err := s.Contexts(callContext(t))
	require.NoError(t, err)

	var ids []string
	for _, c := range contexts {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{"CTX-DEFAULT", "CTX-A", "CTX-EMPTY"}, ids)
	assert.True(t, contexts[0].(*Context).isDefault)
	assert.False(t, contexts[1].(*Context).isDefault)
	assert.False(t, contexts[2].(*Context).isDefault)

	again, err := s.Contexts(callContext(t))
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.Same(t, contexts[1], again[1])

	for _, msg := range stub.commands("Target.getBrowserContexts") {
		assert.Empty(t, msg.SessionID)
	}
}

func TestNewContext(t *testing.T) {
	stub := newDevtoolsServer(t, nil, nil)
	s := stub.attach(t)

	c, err := s.NewContext(callContext(t))
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())
	assert.False(t, c.(*Context).isDefault)
	assert.Len(t, stub.commands("Target.createBrowserContext"), 1)
}

func TestNewPageTargetsItsContext(t *testing.T) {
	stub := newDevtoolsServer(t, []map[string]any{pageTarget("T-1", "CTX-DEFAULT")}, []string{"CTX-A"})
	s := stub.attach(t)
	ctx := callContext(t)

	contexts, err := s.Contexts(ctx)
	require.NoError(t, err)
	require.Len(t, contexts, 2)

	first, err := s.NewPage(ctx, contexts[0])
	require.NoError(t, err)
	second, err := s.NewPage(ctx, contexts[1])
	require.NoError(t, err)
	assert.Equal(t, "PAGE-1", first.ID())
	assert.Equal(t, "PAGE-2", second.ID())

	creates := stub.commands("Target.createTarget")
	require.Len(t, creates, 2)
	inDefault := creates[0].params()
	assert.Equal(t, "about:blank", inDefault["url"])
	assert.NotContains(t, inDefault, "browserContextId")
	assert.Equal(t, "CTX-A", creates[1].params()["browserContextId"])

	var attached []any
	for _, msg := range stub.commands("Target.attachToTarget") {
		attached = append(attached, msg.params()["targetId"])
	}
	assert.Equal(t, []any{"PAGE-1", "PAGE-2"}, attached)
}

func TestFocusActivatesTarget(t *testing.T) {
	stub := newDevtoolsServer(t, nil, nil)
	s := stub.attach(t)
	ctx := callContext(t)

	c, err := s.NewContext(ctx)
	require.NoError(t, err)
	p, err := s.NewPage(ctx, c)
	require.NoError(t, err)

	require.NoError(t, s.Focus(ctx, p))

	activated := stub.commands("Target.activateTarget")
	require.Len(t, activated, 1)
	assert.Empty(t, activated[0].SessionID)
	assert.Equal(t, p.ID(), activated[0].params()["targetId"])
}

func TestAddInitScriptReachesOpenAndLaterPages(t *testing.T) {
	stub := newDevtoolsServer(t, []map[string]any{pageTarget("T-1", "CTX-DEFAULT")}, nil)
	s := stub.attach(t)
	ctx := callContext(t)

	contexts, err := s.Contexts(ctx)
	require.NoError(t, err)
	require.Len(t, contexts, 1)

	open, err := s.NewPage(ctx, contexts[0])
	require.NoError(t, err)
	assert.Empty(t, stub.commands("Page.addScriptToEvaluateOnNewDocument"))

	require.NoError(t, s.AddInitScript(ctx, "window.a = 1"))
	later, err := s.NewPage(ctx, contexts[0])
	require.NoError(t, err)

	added := stub.commands("Page.addScriptToEvaluateOnNewDocument")
	require.Len(t, added, 2)
	assert.Equal(t, "S-"+open.ID(), added[0].SessionID)
	assert.Equal(t, "S-"+later.ID(), added[1].SessionID)
	for _, msg := range added {
		assert.Equal(t, "window.a = 1", msg.params()["source"])
	}

	require.NoError(t, s.AddInitScript(ctx, "window.b = 2"))
	added = stub.commands("Page.addScriptToEvaluateOnNewDocument")
	require.Len(t, added, 4)
	assert.Equal(t, "S-"+open.ID(), added[2].SessionID)
	assert.Equal(t, "S-"+later.ID(), added[3].SessionID)
	assert.Equal(t, "window.b = 2", added[3].params()["source"])
}
