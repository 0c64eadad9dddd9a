package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"watchparty-sync-server/domain"
)

// Hub is the room registry. Rooms are created on first reference and are only
// removed explicitly or by the reaping policy.
type Hub struct {
	rooms map[string]*Room
	mu    sync.RWMutex

	reap  bool
	grace time.Duration
	now   func() time.Time
}

type Option func(*Hub)

// WithReaping removes rooms that have been empty for at least grace. A zero
// grace removes a room as soon as its last member leaves.
func WithReaping(grace time.Duration) Option {
	return func(h *Hub) {
		h.reap = true
		h.grace = grace
	}
}

func withClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) GetOrCreate(id string) *Room {
	h.mu.RLock()
	r, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r = newRoom(id, h.now)
	h.rooms[id] = r
	slog.Debug("room created", "room", id)
	return r
}

func (h *Hub) Get(id string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	return r, ok
}

// Remove deletes the room and closes it to further joins and merges. Members
// still in the room are evicted.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	r, ok := h.rooms[id]
	if ok {
		delete(h.rooms, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}

	evicted := r.evict()
	slog.Info("room removed", "room", id, "evicted", evicted)
	return true
}

// Join adds conn to the room, creating it if needed.
func (h *Hub) Join(id string, conn domain.Connection) *Room {
	for {
		r := h.GetOrCreate(id)
		if err := r.Join(conn); err == nil {
			return r
		}
		// reaped between lookup and join
	}
}

// Leave removes conn from the room if the room exists.
func (h *Hub) Leave(id string, conn domain.Connection) bool {
	r, ok := h.Get(id)
	if !ok {
		return false
	}
	left := r.Leave(conn)
	if left && h.reap && h.grace == 0 {
		h.reapRoom(r)
	}
	return left
}

// MergeState merges update into the room's state, creating the room if needed.
func (h *Hub) MergeState(id string, update map[string]any) *Room {
	for {
		r := h.GetOrCreate(id)
		if _, err := r.MergeState(update); err == nil {
			return r
		}
	}
}

func (h *Hub) reapRoom(r *Room) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[r.id] != r {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reapableLocked(h.now(), h.grace) {
		return false
	}
	r.closed = true
	delete(h.rooms, r.id)
	slog.Info("room removed", "room", r.id)
	return true
}

// Reap removes every room that has been empty for the grace period and
// returns how many were removed. It does nothing unless reaping is enabled.
func (h *Hub) Reap() int {
	if !h.reap {
		return 0
	}
	h.mu.RLock()
	candidates := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		candidates = append(candidates, r)
	}
	h.mu.RUnlock()

	removed := 0
	for _, r := range candidates {
		if h.reapRoom(r) {
			removed++
		}
	}
	return removed
}

// Run reaps on every tick until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Reap(); n > 0 {
				slog.Debug("rooms reaped", "count", n)
			}
		}
	}
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		clients += r.Len()
	}
	return rooms, clients
}
