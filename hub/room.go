package hub

import (
	"log/slog"
	"sync"
	"time"

	"watchparty-sync-server/domain"
	"watchparty-sync-server/metrics"
)

// Room is a set of member connections plus the shared playback state they
// converge on. Sends never happen while mu is held.
type Room struct {
	id  string
	now func() time.Time

	// notify is taken before mu is released so presence updates go out in
	// the order the membership changed.
	notify sync.Mutex

	mu         sync.Mutex
	members    map[string]domain.Connection
	state      domain.SharedState
	emptySince time.Time
	closed     bool
}

func newRoom(id string, now func() time.Time) *Room {
	return &Room{
		id:         id,
		now:        now,
		members:    make(map[string]domain.Connection),
		emptySince: now(),
	}
}

func (r *Room) ID() string { return r.id }

// Join adds conn to the room. A joiner receives the current state, if any,
// and the other members receive the new presence count. Joining twice does
// not duplicate the member or repeat the presence update.
func (r *Room) Join(conn domain.Connection) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ErrRoomClosed
	}
	_, already := r.members[conn.ID()]
	r.members[conn.ID()] = conn
	r.emptySince = time.Time{}
	var snapshot domain.SharedState
	if len(r.state) > 0 {
		snapshot = r.state.Clone()
	}
	others := r.snapshotLocked(conn.ID())
	count := len(r.members)
	r.notify.Lock()
	r.mu.Unlock()

	if snapshot != nil {
		r.sendState(conn, snapshot)
	}
	if !already {
		r.notifyPresence(others, count)
	}
	r.notify.Unlock()
	slog.Info("client joined", "room", r.id, "clientId", conn.ID(), "clients", count)
	return nil
}

// Leave removes conn and tells the remaining members. It reports whether
// conn was a member; a second call is a no-op.
func (r *Room) Leave(conn domain.Connection) bool {
	r.mu.Lock()
	if _, ok := r.members[conn.ID()]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, conn.ID())
	count := len(r.members)
	if count == 0 {
		r.emptySince = r.now()
	}
	others := r.snapshotLocked("")
	r.notify.Lock()
	r.mu.Unlock()

	r.notifyPresence(others, count)
	r.notify.Unlock()
	slog.Info("client left", "room", r.id, "clientId", conn.ID(), "clients", count)
	return true
}

// MergeState applies update field by field and returns it unchanged, so the
// delta rather than the merged snapshot is what gets broadcast.
func (r *Room) MergeState(update map[string]any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrRoomClosed
	}
	if r.state == nil {
		r.state = make(domain.SharedState, len(update))
	}
	r.state.Merge(update)
	return update, nil
}

func (r *Room) State() domain.SharedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.state) == 0 {
		return nil
	}
	return r.state.Clone()
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// evict closes the room and drops every member. Each member's session stops
// pointing at the room and the member is told the room is now empty.
func (r *Room) evict() int {
	r.mu.Lock()
	r.closed = true
	members := r.snapshotLocked("")
	clear(r.members)
	r.emptySince = r.now()
	r.notify.Lock()
	r.mu.Unlock()
	defer r.notify.Unlock()

	for _, c := range members {
		c.Session().ClearRoom(r.id)
	}
	r.notifyPresence(members, 0)
	return len(members)
}

func (r *Room) Has(conn domain.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[conn.ID()]
	return ok
}

// Broadcast delivers data to every member except the one with id exclude and
// returns how many sends were accepted. A failed send skips that member only.
func (r *Room) Broadcast(data []byte, exclude string) int {
	r.mu.Lock()
	recipients := r.snapshotLocked(exclude)
	r.mu.Unlock()
	return r.deliver(recipients, data)
}

func (r *Room) RelayAll(data []byte) int {
	return r.Broadcast(data, "")
}

func (r *Room) snapshotLocked(exclude string) []domain.Connection {
	out := make([]domain.Connection, 0, len(r.members))
	for id, c := range r.members {
		if id == exclude {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Room) deliver(recipients []domain.Connection, data []byte) int {
	sent := 0
	for _, c := range recipients {
		if err := c.Send(data); err != nil {
			metrics.MessagesDropped.WithLabelValues(metrics.ReasonDelivery).Inc()
			slog.Debug("delivery skipped", "room", r.id, "clientId", c.ID(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

func (r *Room) sendState(conn domain.Connection, state domain.SharedState) {
	data, err := domain.Encode(domain.TypeStateResponse, r.id, state)
	if err != nil {
		slog.Warn("marshal error", "room", r.id, "error", err)
		return
	}
	r.deliver([]domain.Connection{conn}, data)
}

// SendState answers a state request from conn. It reports false when the
// room has no state yet, in which case nothing is sent.
func (r *Room) SendState(conn domain.Connection) bool {
	state := r.State()
	if state == nil {
		return false
	}
	r.sendState(conn, state)
	return true
}

// reapableLocked reports whether the room has been empty for at least grace.
func (r *Room) reapableLocked(now time.Time, grace time.Duration) bool {
	return len(r.members) == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) >= grace
}
