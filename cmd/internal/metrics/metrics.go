// Package metrics defines Vision's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the process-wide collectors. A nil *Metrics is valid and
// turns every record method into a no-op, so tests can pass nil.
type Metrics struct {
	connectionsOpen prometheus.Gauge
	broadcastsTotal prometheus.Counter
	forcedCloses    prometheus.Counter
	authFailures    *prometheus.CounterVec
	logins          prometheus.Counter
	registrations   prometheus.Counter
	scoreUpdates    prometheus.Counter
}

// New registers the collectors with reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "vision",
			Subsystem: "ws",
			Name:      "connections_open",
			Help:      "Number of currently open websocket connections.",
		}),
		broadcastsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vision",
			Subsystem: "ws",
			Name:      "broadcasts_total",
			Help:      "Messages delivered by the broadcaster.",
		}),
		forcedCloses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vision",
			Subsystem: "ws",
			Name:      "forced_closes_total",
			Help:      "Connections force-closed by the registry.",
		}),
		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vision",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Authentication failures by operation.",
		}, []string{"op"}),
		logins: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vision",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Successful logins.",
		}),
		registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vision",
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Successful registrations.",
		}),
		scoreUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vision",
			Subsystem: "scores",
			Name:      "updates_total",
			Help:      "Accepted score updates.",
		}),
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connectionsOpen.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connectionsOpen.Dec()
	}
}

func (m *Metrics) BroadcastDelivered(n int) {
	if m != nil && n > 0 {
		m.broadcastsTotal.Add(float64(n))
	}
}

func (m *Metrics) ForcedClose(n int) {
	if m != nil && n > 0 {
		m.forcedCloses.Add(float64(n))
	}
}

func (m *Metrics) AuthFailure(op string) {
	if m != nil {
		m.authFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Login() {
	if m != nil {
		m.logins.Inc()
	}
}

func (m *Metrics) Registration() {
	if m != nil {
		m.registrations.Inc()
	}
}

func (m *Metrics) ScoreUpdate() {
	if m != nil {
		m.scoreUpdates.Inc()
	}
}
