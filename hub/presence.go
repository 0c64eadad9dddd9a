package hub

import (
	"log/slog"

	"watchparty-sync-server/domain"
)

// Presence is the payload of a presence envelope.
type Presence struct {
	Clients int `json:"clients"`
}

// notifyPresence tells recipients the member count taken under the room lock
// by the join or leave that triggered it.
func (r *Room) notifyPresence(recipients []domain.Connection, count int) {
	if len(recipients) == 0 {
		return
	}
	data, err := domain.Encode(domain.TypePresence, r.id, Presence{Clients: count})
	if err != nil {
		slog.Warn("marshal error", "room", r.id, "error", err)
		return
	}
	r.deliver(recipients, data)
}
