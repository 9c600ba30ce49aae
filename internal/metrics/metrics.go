package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_connections",
		Help: "Number of currently registered live connections.",
	})

	LiveEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_events_total",
		Help: "Inbound live events handled, by event name.",
	}, []string{"event"})

	RoomBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_broadcasts_total",
		Help: "Events fanned out to conversation rooms.",
	})
)
