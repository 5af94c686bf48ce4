package ide

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchiang0610/continue/session"
)

type testServer struct {
	manager *session.Manager
	store   *session.FileStore
	hub     *Hub
	url     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	manager, err := session.NewManager(session.Options{Store: store})
	require.NoError(t, err)

	hub := NewHub()
	h := NewHandler(manager, hub, nil)

	router := gin.New()
	router.GET("/ide/ws", h.Serve)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	return &testServer{
		manager: manager,
		store:   store,
		hub:     hub,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ide/ws",
	}
}

type reply struct {
	MessageType string         `json:"messageType"`
	Data        map[string]any `json:"data"`
}

func dial(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	hello := read(t, ws)
	require.Equal(t, MessageConnected, hello.MessageType)
	id, _ := hello.Data["controllerId"].(string)
	require.NotEmpty(t, id)
	return ws, id
}

func read(t *testing.T, ws *websocket.Conn) reply {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r reply
	require.NoError(t, ws.ReadJSON(&r))
	return r
}

func send(t *testing.T, ws *websocket.Conn, messageType string, data any) {
	t.Helper()
	payload := map[string]any{"messageType": messageType}
	if data != nil {
		payload["data"] = data
	}
	require.NoError(t, ws.WriteJSON(payload))
}

func TestServe_RegistersInHub(t *testing.T) {
	ts := newTestServer(t)
	_, id := dial(t, ts.url+"?controller_id=vscode-1")

	assert.Equal(t, "vscode-1", id)
	require.Eventually(t, func() bool {
		_, ok := ts.hub.Get("vscode-1")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestServe_Ping(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := dial(t, ts.url)

	send(t, ws, MessagePing, nil)
	assert.Equal(t, MessagePong, read(t, ws).MessageType)
}

func TestServe_UnknownMessageKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := dial(t, ts.url)

	send(t, ws, "teleport", nil)
	r := read(t, ws)
	assert.Equal(t, MessageError, r.MessageType)
	assert.Contains(t, r.Data["message"], "teleport")

	send(t, ws, MessagePing, nil)
	assert.Equal(t, MessagePong, read(t, ws).MessageType)
}

func TestServe_OpenGUICreatesSession(t *testing.T) {
	ts := newTestServer(t)
	ws, id := dial(t, ts.url)

	send(t, ws, MessageOpenGUI, map[string]any{})
	r := read(t, ws)
	require.Equal(t, MessageOpenGUI, r.MessageType)
	sessionID, _ := r.Data["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	s, err := ts.manager.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, s.ID)

	ctrl, ok := ts.manager.Controllers().Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, id, ctrl.ID())
	assert.True(t, ctrl.State().IsBoundTo(sessionID))
}

func TestServe_OpenGUIReusesInMemorySession(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := dial(t, ts.url)

	send(t, ws, MessageOpenGUI, nil)
	first := read(t, ws).Data["sessionId"]

	send(t, ws, MessageOpenGUI, map[string]any{"sessionId": first})
	second := read(t, ws).Data["sessionId"]

	assert.Equal(t, first, second)
	assert.Equal(t, 1, ts.manager.Count())
}

func TestServe_ReconnectResumesPersistedSession(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := dial(t, ts.url)

	send(t, ws, MessageOpenGUI, nil)
	sessionID := read(t, ws).Data["sessionId"].(string)

	s, err := ts.manager.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.NoError(t, s.Engine.SubmitInput("before restart"))
	require.Eventually(t, func() bool {
		st, err := s.Engine.FullState(context.Background())
		return err == nil && len(st.History) == 2
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, ts.manager.PersistSession(context.Background(), sessionID))
	require.NoError(t, ts.manager.RemoveSession(context.Background(), sessionID))

	// RemoveSession closed the old socket
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)

	ws2, newID := dial(t, ts.url)
	send(t, ws2, MessageOpenGUI, map[string]any{"sessionId": sessionID})
	r := read(t, ws2)
	require.Equal(t, MessageOpenGUI, r.MessageType)
	assert.Equal(t, sessionID, r.Data["sessionId"])

	resumed, err := ts.manager.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, resumed.Resumed)
	st, err := resumed.Engine.FullState(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.History, 2)

	ctrl, ok := ts.manager.Controllers().Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, newID, ctrl.ID())
}

func TestServe_FileEditsForUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := dial(t, ts.url)

	send(t, ws, MessageFileEdits, map[string]any{
		"sessionId": "missing",
		"fileEdits": []map[string]any{{"filepath": "a.go", "replacement": "x"}},
	})
	assert.Equal(t, MessageError, read(t, ws).MessageType)
}

func TestServe_FileEditsUsesBoundSession(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := dial(t, ts.url)

	send(t, ws, MessageOpenGUI, nil)
	read(t, ws)

	// Accepted silently, so the next reply is the pong
	send(t, ws, MessageFileEdits, map[string]any{
		"fileEdits": []map[string]any{{"filepath": "a.go", "replacement": "x"}},
	})
	send(t, ws, MessagePing, nil)
	assert.Equal(t, MessagePong, read(t, ws).MessageType)
}

func TestServe_DisconnectKeepsSession(t *testing.T) {
	ts := newTestServer(t)
	ws, id := dial(t, ts.url)

	send(t, ws, MessageOpenGUI, nil)
	sessionID := read(t, ws).Data["sessionId"].(string)

	ws.Close()
	require.Eventually(t, func() bool {
		_, ok := ts.hub.Get(id)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err := ts.manager.GetSession(context.Background(), sessionID)
	assert.NoError(t, err)

	ctrl, ok := ts.manager.Controllers().Get(sessionID)
	require.True(t, ok)
	assert.False(t, ctrl.IsOpen())
	assert.True(t, ctrl.State().IsBoundTo(sessionID))
}

func TestInboundDecoding(t *testing.T) {
	var msg inbound
	require.NoError(t, json.Unmarshal([]byte(`{"messageType":"openGUI","data":{"sessionId":"abc"}}`), &msg))

	var req openGUIRequest
	require.NoError(t, json.Unmarshal(msg.Data, &req))
	assert.Equal(t, "abc", req.SessionID)
}
