package domain

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
	ErrMissingRoom   = errors.New("missing room id")
	ErrUnknownType   = errors.New("unknown message type")
	ErrRoomClosed    = errors.New("room closed")
)

// Envelope is the unit exchanged over a connection in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(t MessageType, roomID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, RoomID: roomID, Payload: raw})
}

// SharedState is the free-form playback status of a room. Updates are merged
// field by field; a field absent from an update keeps its previous value.
type SharedState map[string]any

func (s SharedState) Merge(update map[string]any) {
	for k, v := range update {
		s[k] = v
	}
}

func (s SharedState) Clone() SharedState {
	out := make(SharedState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Session is the per-connection state set by the connection's own messages.
type Session struct {
	mu       sync.Mutex
	username string
	room     string
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = name
}

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// SetRoom records the joined room and returns the one it replaces.
func (s *Session) SetRoom(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.room
	s.room = id
	return prev
}

// ClearRoom forgets the room only if it is still the current one.
func (s *Session) ClearRoom(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != id {
		return false
	}
	s.room = ""
	return true
}

// TakeRoom clears the current room and returns it. Only the first caller
// after a join observes a non-empty id.
func (s *Session) TakeRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.room
	s.room = ""
	return prev
}

type Connection interface {
	ID() string
	Session() *Session
	Send(data []byte) error
	Close() error
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
	Disconnect(conn Connection)
}
