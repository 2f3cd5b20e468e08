// Package metrics holds the scheduler's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	JobRuns        *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobLeaderSkips *prometheus.CounterVec
}

// New creates and registers the job metrics.
func New() *Metrics {
	return &Metrics{
		JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_job_runs_total",
			Help: "Scheduled job runs by job and outcome",
		}, []string{"job", "outcome"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "covenant_job_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		JobLeaderSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_job_leader_skips_total",
			Help: "Job runs skipped because another instance held the lock",
		}, []string{"job"}),
	}
}

func (m *Metrics) ObserveRun(job, outcome string, d time.Duration) {
	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) IncLeaderSkip(job string) {
	m.JobLeaderSkips.WithLabelValues(job).Inc()
}
