package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"watchparty-sync-server/domain"
	"watchparty-sync-server/hub"
	"watchparty-sync-server/metrics"
)

const anonymous = "anonymous"

// errNoHandler means a type is in the vocabulary but dispatch has no case for it.
var errNoHandler = errors.New("no handler for message type")

type Handler struct {
	hub               *hub.Hub
	chatIncludeSender bool
}

type Option func(*Handler)

func WithChatIncludeSender(include bool) Option {
	return func(h *Handler) { h.chatIncludeSender = include }
}

func NewHandler(rooms *hub.Hub, opts ...Option) *Handler {
	h := &Handler{hub: rooms, chatIncludeSender: true}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle decodes one inbound message and dispatches it. Nothing here closes
// the connection: bad input is logged and dropped.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonDecode).Inc()
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}
	if !env.Type.Known() {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonUnknownType).Inc()
		slog.Debug("message ignored", "clientId", conn.ID(), "type", env.Type)
		return
	}

	err := h.dispatch(conn, env)
	switch {
	case err == nil:
		metrics.MessagesReceived.WithLabelValues(string(env.Type.Canonical())).Inc()
	case errors.Is(err, domain.ErrUnknownType):
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonUnknownType).Inc()
		slog.Debug("message ignored", "clientId", conn.ID(), "type", env.Type)
	case errors.Is(err, errNoHandler):
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonUnknownType).Inc()
		slog.Error("unhandled message type", "clientId", conn.ID(), "type", env.Type)
	default:
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonDecode).Inc()
		slog.Warn("invalid message", "clientId", conn.ID(), "type", env.Type, "error", err)
	}
}

func (h *Handler) dispatch(conn domain.Connection, env domain.Envelope) error {
	switch env.Type.Canonical() {
	case domain.TypeJoin:
		return h.join(conn, env)
	case domain.TypeLeave:
		return h.leave(conn, env)
	case domain.TypeSync, domain.TypeVideoChange:
		return h.sync(conn, env)
	case domain.TypeStateRequest:
		return h.stateRequest(conn, env)
	case domain.TypeChat:
		return h.chat(conn, env)
	case domain.TypeEmote:
		return h.emote(conn, env)
	case domain.TypePing:
		return h.ping(conn, env)
	case domain.TypeStateResponse, domain.TypePresence, domain.TypePong:
		// server-originated; a client echoing them is ignored
		return fmt.Errorf("%w: %s", domain.ErrUnknownType, env.Type)
	default:
		return fmt.Errorf("%w: %s", errNoHandler, env.Type)
	}
}

// Join moves conn into roomID, leaving its previous room first so that room
// sees the presence update before the new one does.
func (h *Handler) Join(conn domain.Connection, roomID, username string) {
	if username != "" {
		conn.Session().SetUsername(username)
	}
	if prev := conn.Session().SetRoom(roomID); prev != "" && prev != roomID {
		h.hub.Leave(prev, conn)
	}
	h.hub.Join(roomID, conn)
}

// Disconnect is the implicit leave on transport close. Repeated calls are
// harmless: only the first one finds a room to leave.
func (h *Handler) Disconnect(conn domain.Connection) {
	roomID := conn.Session().TakeRoom()
	if roomID == "" {
		return
	}
	h.hub.Leave(roomID, conn)
}

func (h *Handler) join(conn domain.Connection, env domain.Envelope) error {
	var p joinPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	if env.RoomID == "" {
		return domain.ErrMissingRoom
	}
	h.Join(conn, env.RoomID, p.Username)
	return nil
}

func (h *Handler) leave(conn domain.Connection, env domain.Envelope) error {
	roomID, err := target(conn, env)
	if err != nil {
		return err
	}
	conn.Session().ClearRoom(roomID)
	h.hub.Leave(roomID, conn)
	return nil
}

// sync merges the update and relays the payload as received, so numbers keep
// the precision the sender gave them.
func (h *Handler) sync(conn domain.Connection, env domain.Envelope) error {
	update, err := decodeState(env.Payload)
	if err != nil {
		return err
	}
	roomID, err := target(conn, env)
	if err != nil {
		return err
	}
	if len(update) == 0 {
		return nil
	}

	room := h.hub.MergeState(roomID, update)
	data, err := json.Marshal(domain.Envelope{Type: env.Type, RoomID: roomID, Payload: env.Payload})
	if err != nil {
		return err
	}
	room.Broadcast(data, conn.ID())
	return nil
}

func (h *Handler) stateRequest(conn domain.Connection, env domain.Envelope) error {
	roomID, err := target(conn, env)
	if err != nil {
		return err
	}
	// only members may read a room's state
	if room, ok := h.hub.Get(roomID); ok && room.Has(conn) {
		room.SendState(conn)
	}
	return nil
}

func (h *Handler) chat(conn domain.Connection, env domain.Envelope) error {
	var p chatPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	if p.Message == "" {
		return errors.New("chat: empty message")
	}
	roomID, err := target(conn, env)
	if err != nil {
		return err
	}
	room, ok := h.hub.Get(roomID)
	if !ok {
		return nil
	}

	username := conn.Session().Username()
	if username == "" {
		username = anonymous
	}
	data, err := domain.Encode(env.Type, roomID, chatPayload{
		Username: username,
		ClientID: conn.ID(),
		Message:  p.Message,
	})
	if err != nil {
		return err
	}
	if h.chatIncludeSender {
		room.RelayAll(data)
	} else {
		room.Broadcast(data, conn.ID())
	}
	return nil
}

func (h *Handler) emote(conn domain.Connection, env domain.Envelope) error {
	roomID, err := target(conn, env)
	if err != nil {
		return err
	}
	room, ok := h.hub.Get(roomID)
	if !ok {
		return nil
	}
	data, err := json.Marshal(domain.Envelope{Type: env.Type, RoomID: roomID, Payload: env.Payload})
	if err != nil {
		return err
	}
	room.Broadcast(data, conn.ID())
	return nil
}

func (h *Handler) ping(conn domain.Connection, env domain.Envelope) error {
	var p pingPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	data, err := domain.Encode(domain.TypePong, env.RoomID, pingPayload{Timestamp: p.Timestamp, ClientID: conn.ID()})
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// target resolves the room an envelope refers to, falling back to the
// connection's current room when the envelope names none.
func target(conn domain.Connection, env domain.Envelope) (string, error) {
	if env.RoomID != "" {
		return env.RoomID, nil
	}
	if id := conn.Session().Room(); id != "" {
		return id, nil
	}
	return "", domain.ErrMissingRoom
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// decodeState keeps numbers as json.Number so stored state re-encodes to the
// digits the client sent.
func decodeState(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var update map[string]any
	if err := dec.Decode(&update); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return update, nil
}
