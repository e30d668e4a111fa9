package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsRelayed counts outbound records by source and record type.
	EventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadlag_events_relayed_total",
			Help: "Outbound stream records relayed, by source and type",
		},
		[]string{"source", "type"},
	)

	// ReconnectAttempts counts reconnect attempts by source.
	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadlag_reconnect_attempts_total",
			Help: "Upstream reconnect attempts, by source",
		},
		[]string{"source"},
	)

	// ThrottledBookUpdates counts order-book updates dropped by the
	// inter-emission throttle.
	ThrottledBookUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadlag_book_updates_throttled_total",
			Help: "Order-book updates dropped by the emission throttle",
		},
	)

	// DroppedEvents counts events lost to a full session buffer.
	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadlag_events_dropped_total",
			Help: "Events dropped due to a full session buffer, by source",
		},
		[]string{"source"},
	)

	// ConnectionUp reports whether a venue connection is established.
	ConnectionUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadlag_connection_up",
			Help: "Whether the upstream connection is established (1/0), by source",
		},
		[]string{"source"},
	)

	// ActiveSessions tracks live relay sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadlag_active_sessions",
			Help: "Number of live relay sessions",
		},
	)
)
