package immutability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Violations *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Violations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_freeze_violations_total",
			Help: "Writes blocked because the entity reached a freeze milestone",
		}, []string{"entity_type"}),
	}
}

func (m *Metrics) IncViolation(entityType string) {
	m.Violations.WithLabelValues(entityType).Inc()
}
