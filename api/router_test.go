package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty-sync-server/domain"
	"watchparty-sync-server/hub"
	"watchparty-sync-server/protocol"
	ws "watchparty-sync-server/websocket"
)

func newTestRouter(t *testing.T, origins ...string) (*hub.Hub, http.Handler) {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	rooms := hub.New()
	router := NewRouter(rooms, protocol.NewHandler(rooms), Options{
		AllowedOrigins: origins,
		RedirectURL:    "https://www.youtube.com/watch",
		RoomIDLength:   8,
		WebSocket:      ws.DefaultConfig(),
	})
	return rooms, router
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestCreateRoom(t *testing.T) {
	rooms, router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/rooms")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body roomCreated
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-z]{8}$`), body.RoomID)

	_, ok := rooms.Get(body.RoomID)
	assert.True(t, ok)

	rec = do(t, router, http.MethodPost, "/rooms")
	var second roomCreated
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.NotEqual(t, body.RoomID, second.RoomID)
}

func TestGetRoom(t *testing.T) {
	rooms, router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/rooms/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"room not found"}`, rec.Body.String())
	_, ok := rooms.Get("missing")
	assert.False(t, ok)

	rooms.MergeState("ab12cd34", map[string]any{"time": 5.0, "paused": true})
	rec = do(t, router, http.MethodGet, "/rooms/ab12cd34")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"roomId":"ab12cd34","clients":0,"state":{"time":5,"paused":true}}`, rec.Body.String())

	rooms.GetOrCreate("empty")
	rec = do(t, router, http.MethodGet, "/rooms/empty")
	assert.JSONEq(t, `{"roomId":"empty","clients":0,"state":{}}`, rec.Body.String())
}

func TestJoinPage(t *testing.T) {
	_, router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/join/ab12cd34")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "room=ab12cd34")

	rec = do(t, router, http.MethodGet, "/join/%3Cscript%3Ealert(1)")
	assert.NotContains(t, rec.Body.String(), "<script>alert")
}

func TestHealthAndStats(t *testing.T) {
	rooms, router := newTestRouter(t)
	rooms.GetOrCreate("a")
	rooms.GetOrCreate("b")

	rec := do(t, router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","rooms":2}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/stats")
	assert.JSONEq(t, `{"rooms":2,"clients":0}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "watchparty_connections")
}

func TestCORS(t *testing.T) {
	_, router := newTestRouter(t, "https://app.example")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckOrigin(t *testing.T) {
	strict := checkOrigin([]string{"https://app.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, strict(req))
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, strict(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, strict(req))

	assert.True(t, checkOrigin([]string{"*"})(req))
}

func readEnvelope(t *testing.T, c *websocket.Conn) domain.Envelope {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWebSocketSession(t *testing.T) {
	rooms, router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var created roomCreated
	require.NoError(t, json.Unmarshal(raw, &created))

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	x, _, err := websocket.DefaultDialer.Dial(base+"?room="+created.RoomID+"&username=alice", nil)
	require.NoError(t, err)
	defer x.Close()
	assert.Eventually(t, func() bool {
		room, ok := rooms.Get(created.RoomID)
		return ok && room.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	y, _, err := websocket.DefaultDialer.Dial(base, nil)
	require.NoError(t, err)

	require.NoError(t, y.WriteJSON(map[string]any{"type": "join", "roomId": created.RoomID, "payload": map[string]any{}}))
	env := readEnvelope(t, x)
	assert.Equal(t, domain.TypePresence, env.Type)
	assert.JSONEq(t, `{"clients":2}`, string(env.Payload))

	require.NoError(t, y.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, y.WriteJSON(map[string]any{"type": "sync", "roomId": created.RoomID, "payload": map[string]any{"time": 5.0, "paused": true}}))
	env = readEnvelope(t, x)
	assert.Equal(t, domain.TypeSync, env.Type)
	assert.JSONEq(t, `{"time":5,"paused":true}`, string(env.Payload))

	require.NoError(t, x.WriteJSON(map[string]any{"type": "stateRequest"}))
	env = readEnvelope(t, x)
	assert.Equal(t, domain.TypeStateResponse, env.Type)
	assert.JSONEq(t, `{"time":5,"paused":true}`, string(env.Payload))

	y.Close()
	env = readEnvelope(t, x)
	assert.Equal(t, domain.TypePresence, env.Type)
	assert.JSONEq(t, `{"clients":1}`, string(env.Payload))

	room, ok := rooms.Get(created.RoomID)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return room.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
}
