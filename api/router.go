package api

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"watchparty-sync-server/hub"
	"watchparty-sync-server/metrics"
	"watchparty-sync-server/protocol"
	ws "watchparty-sync-server/websocket"
)

type Options struct {
	AllowedOrigins []string
	RedirectURL    string
	RoomIDLength   int
	WebSocket      ws.Config
}

type server struct {
	hub         *hub.Hub
	handler     *protocol.Handler
	ids         *RoomIDs
	upgrader    websocket.Upgrader
	wsCfg       ws.Config
	redirectURL string
}

func NewRouter(rooms *hub.Hub, handler *protocol.Handler, opts Options) http.Handler {
	s := &server{
		hub:         rooms,
		handler:     handler,
		ids:         NewRoomIDs(opts.RoomIDLength),
		wsCfg:       opts.WebSocket,
		redirectURL: opts.RedirectURL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/rooms", s.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}", s.getRoom).Methods(http.MethodGet)
	r.HandleFunc("/join/{roomId}", s.joinPage).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWS)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler())

	return cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

type roomCreated struct {
	RoomID string `json:"roomId"`
}

type roomInfo struct {
	RoomID  string         `json:"roomId"`
	Clients int            `json:"clients"`
	State   map[string]any `json:"state"`
}

func (s *server) createRoom(w http.ResponseWriter, r *http.Request) {
	id, err := s.ids.Next(func(id string) bool {
		_, ok := s.hub.Get(id)
		return ok
	})
	if err != nil {
		slog.Error("room id generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not allocate room"})
		return
	}
	s.hub.GetOrCreate(id)
	slog.Info("room allocated", "room", id)
	writeJSON(w, http.StatusCreated, roomCreated{RoomID: id})
}

func (s *server) getRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["roomId"]
	room, ok := s.hub.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	state := room.State()
	if state == nil {
		state = map[string]any{}
	}
	writeJSON(w, http.StatusOK, roomInfo{RoomID: id, Clients: room.Len(), State: state})
}

var joinPageTmpl = template.Must(template.New("join").Parse(`<!DOCTYPE html>
<html>
  <head>
    <title>WatchParty - Join</title>
  </head>
  <body>
    <p>Joining WatchParty…</p>
    <script>window.location.href = {{.Target}};</script>
  </body>
</html>
`))

func (s *server) joinPage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["roomId"]
	target, err := url.Parse(s.redirectURL)
	if err != nil {
		http.Error(w, "bad redirect url", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("room", id)
	target.RawQuery = q.Encode()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := joinPageTmpl.Execute(w, struct{ Target string }{Target: target.String()}); err != nil {
		slog.Warn("render join page", "room", id, "error", err)
	}
}

// serveWS upgrades the request and starts the connection. ?room= joins
// immediately, optionally with ?username=.
func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}

	conn := ws.NewConn(uuid.New().String(), wsConn, s.handler, s.wsCfg)
	slog.Info("client connected", "clientId", conn.ID(), "remote", r.RemoteAddr)
	if room := r.URL.Query().Get("room"); room != "" {
		s.handler.Join(conn, room, r.URL.Query().Get("username"))
	}
	conn.Start()
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	rooms, _ := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rooms": rooms})
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	rooms, clients := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]int{"rooms": rooms, "clients": clients})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
