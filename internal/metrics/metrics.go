// Package metrics holds the Prometheus instrumentation for the
// collaboration core. Collectors are registered on the default registry and
// exposed by the admin server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks registered transport connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "surveysync_active_connections",
		Help: "Number of live WebSocket connections in the registry.",
	})

	// ActiveSessions tracks live collaboration sessions in the store.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "surveysync_active_sessions",
		Help: "Number of collaboration sessions held in memory.",
	})

	// EventsProcessed counts client messages dispatched by the hub, by
	// message type or action.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveysync_events_processed_total",
		Help: "Client messages processed by the collaboration hub.",
	}, []string{"action"})

	// BroadcastsSent counts frames fanned out to session peers.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surveysync_broadcasts_sent_total",
		Help: "Events delivered to session participants.",
	})

	// BroadcastFailures counts peers that missed a frame because their
	// socket was not writable at broadcast time.
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surveysync_broadcast_failures_total",
		Help: "Events dropped because a participant socket was not writable.",
	})

	// LocksExpired counts element locks removed by the sweep.
	LocksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surveysync_locks_expired_total",
		Help: "Element locks removed after passing their TTL.",
	})

	// SessionsReaped counts sessions evicted after the inactivity window.
	SessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surveysync_sessions_reaped_total",
		Help: "Sessions evicted after 24 hours without activity.",
	})
)
