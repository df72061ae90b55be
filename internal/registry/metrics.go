package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the registry service. A nil *Metrics is a no-op so the
// service works without prometheus wired.
type Metrics struct {
	registered   prometheus.Counter
	heartbeats   prometheus.Counter
	sweeps       prometheus.Counter
	sweptLeases  prometheus.Counter
	activeLeases prometheus.Gauge
}

// NewMetrics registers the registry collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weave_registry_registrations_total",
			Help: "Deployment register calls accepted.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weave_registry_heartbeats_total",
			Help: "Heartbeat calls accepted.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weave_registry_sweeps_total",
			Help: "Sweeper runs completed.",
		}),
		sweptLeases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weave_registry_swept_leases_total",
			Help: "Expired leases removed by the sweeper.",
		}),
		activeLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weave_registry_active_leases",
			Help: "Leases currently within their TTL.",
		}),
	}
	reg.MustRegister(m.registered, m.heartbeats, m.sweeps, m.sweptLeases, m.activeLeases)
	return m
}

func (m *Metrics) IncRegistered() {
	if m != nil {
		m.registered.Inc()
	}
}

func (m *Metrics) IncHeartbeats() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Metrics) RecordSweep(removed int) {
	if m != nil {
		m.sweeps.Inc()
		m.sweptLeases.Add(float64(removed))
	}
}

func (m *Metrics) SetActiveLeases(n int) {
	if m != nil {
		m.activeLeases.Set(float64(n))
	}
}
