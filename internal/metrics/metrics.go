package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the coordination service.
type Metrics struct {
	registry              *prometheus.Registry
	activeSessions        prometheus.Gauge
	connectedParticipants prometheus.Gauge
	actionsTotal          *prometheus.CounterVec
	actionErrorsTotal     prometheus.Counter
	syncBroadcastsTotal   prometheus.Counter
}

// New creates and registers the service's collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "listenroom_active_sessions",
		Help: "Number of sessions with live state",
	})
	connectedParticipants := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "listenroom_connected_participants",
		Help: "Number of currently joined participants across all sessions",
	})
	actionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "listenroom_actions_total",
		Help: "Total inbound WebSocket actions dispatched, by action name",
	}, []string{"action"})
	actionErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listenroom_action_errors_total",
		Help: "Total actions rejected with an error event",
	})
	syncBroadcastsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listenroom_sync_broadcasts_total",
		Help: "Total playback_sync broadcasts",
	})

	registry.MustRegister(
		activeSessions,
		connectedParticipants,
		actionsTotal,
		actionErrorsTotal,
		syncBroadcastsTotal,
	)

	return &Metrics{
		registry:              registry,
		activeSessions:        activeSessions,
		connectedParticipants: connectedParticipants,
		actionsTotal:          actionsTotal,
		actionErrorsTotal:     actionErrorsTotal,
		syncBroadcastsTotal:   syncBroadcastsTotal,
	}
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// IncParticipants increments the connected participants gauge.
func (m *Metrics) IncParticipants() { m.connectedParticipants.Inc() }

// DecParticipants decrements the connected participants gauge.
func (m *Metrics) DecParticipants() { m.connectedParticipants.Dec() }

// IncAction counts one dispatched action.
func (m *Metrics) IncAction(action string) { m.actionsTotal.WithLabelValues(action).Inc() }

// IncActionErrors counts one rejected action.
func (m *Metrics) IncActionErrors() { m.actionErrorsTotal.Inc() }

// IncSyncBroadcasts counts one playback_sync fan-out.
func (m *Metrics) IncSyncBroadcasts() { m.syncBroadcastsTotal.Inc() }

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
