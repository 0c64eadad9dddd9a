package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watchparty"

var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Inbound envelopes by canonical type.",
	}, []string{"type"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Inbound envelopes dropped and outbound deliveries skipped, by reason.",
	}, []string{"reason"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open websocket connections.",
	})
)

const (
	ReasonDecode      = "decode"
	ReasonUnknownType = "unknown_type"
	ReasonDelivery    = "delivery"
)

// RegisterRooms exposes live room and member counts read from stats on each scrape.
func RegisterRooms(reg prometheus.Registerer, stats func() (rooms, clients int)) error {
	rooms := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms held by the registry.",
	}, func() float64 {
		r, _ := stats()
		return float64(r)
	})
	members := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "room_members",
		Help:      "Connections joined to a room.",
	}, func() float64 {
		_, c := stats()
		return float64(c)
	})
	if err := reg.Register(rooms); err != nil {
		return err
	}
	return reg.Register(members)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
