package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session counters exported on /metrics. A nil *Metrics records nothing.
type Metrics struct {
	sessions    prometheus.Gauge
	created     prometheus.Counter
	destroyed   *prometheus.CounterVec
	connections prometheus.Gauge
	dropped     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livequiz",
			Name:      "sessions_active",
			Help:      "Number of live sessions held by the registry.",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "sessions_destroyed_total",
			Help:      "Sessions destroyed, by cause.",
		}, []string{"cause"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livequiz",
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped because a client was too slow.",
		}),
	}

	reg.MustRegister(m.sessions, m.created, m.destroyed, m.connections, m.dropped)
	return m
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
	m.sessions.Inc()
}

func (m *Metrics) SessionDestroyed(cause string) {
	if m == nil {
		return
	}
	m.destroyed.WithLabelValues(cause).Inc()
	m.sessions.Dec()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
