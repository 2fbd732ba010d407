package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the server.
//
// Metrics exposed:
//   - djhtmx_events_total: events by result (ok, stale, rejected, error, dropped)
//   - djhtmx_event_duration_seconds: handler dispatch duration by component type
//   - djhtmx_commands_total: outbound commands by kind
//   - djhtmx_signal_batches_total: signal batches evaluated
//   - djhtmx_active_sessions: connected WebSocket sessions
//   - djhtmx_sessions_total: sessions ever created
type Metrics struct {
	EventsTotal    *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	CommandsTotal  *prometheus.CounterVec
	SignalBatches  prometheus.Counter
	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter
}

// Event result labels.
const (
	ResultOK       = "ok"
	ResultStale    = "stale"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultDropped  = "dropped"
)

// NewMetrics registers the server instruments on the given registerer.
// Pass prometheus.DefaultRegisterer for the usual global registry, or a
// private one in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "djhtmx",
			Name:      "events_total",
			Help:      "Total number of component events processed",
		}, []string{"result"}),

		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "djhtmx",
			Name:      "event_duration_seconds",
			Help:      "Event dispatch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),

		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "djhtmx",
			Name:      "commands_total",
			Help:      "Total number of commands sent to clients",
		}, []string{"command"}),

		SignalBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "djhtmx",
			Name:      "signal_batches_total",
			Help:      "Total number of signal batches evaluated",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "djhtmx",
			Name:      "active_sessions",
			Help:      "Number of connected WebSocket sessions",
		}),

		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "djhtmx",
			Name:      "sessions_total",
			Help:      "Total number of sessions created",
		}),
	}
}
