package idempotency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
	Races  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Hits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_idempotency_hits_total",
			Help: "Requests answered from a stored idempotent result",
		}, []string{"operation"}),
		Misses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_idempotency_misses_total",
			Help: "Requests that executed the operation",
		}, []string{"operation"}),
		Races: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_idempotency_races_total",
			Help: "Concurrent executions resolved to the first stored result",
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncHit(op string)  { m.Hits.WithLabelValues(op).Inc() }
func (m *Metrics) IncMiss(op string) { m.Misses.WithLabelValues(op).Inc() }
func (m *Metrics) IncRace(op string) { m.Races.WithLabelValues(op).Inc() }
