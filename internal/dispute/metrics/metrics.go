package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DisputesCreated  prometheus.Counter
	DisputesResolved *prometheus.CounterVec
	AutoResolved     *prometheus.CounterVec
	SweepFailures    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		DisputesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_disputes_created_total",
			Help: "Disputes opened",
		}),
		DisputesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_disputes_resolved_total",
			Help: "Disputes closed by final status and actor role",
		}, []string{"status", "actor_role"}),
		AutoResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_disputes_auto_resolved_total",
			Help: "Disputes closed by the deadline sweep, by outcome",
		}, []string{"outcome"}),
		SweepFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_dispute_sweep_failures_total",
			Help: "Expired disputes the sweep failed to close",
		}),
	}
}

func (m *Metrics) IncCreated() {
	m.DisputesCreated.Inc()
}

func (m *Metrics) IncResolved(status, actorRole string) {
	m.DisputesResolved.WithLabelValues(status, actorRole).Inc()
}

func (m *Metrics) IncAutoResolved(outcome string) {
	m.AutoResolved.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSweepFailure() {
	m.SweepFailures.Inc()
}
