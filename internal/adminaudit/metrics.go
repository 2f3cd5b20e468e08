package adminaudit

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Actions       *prometheus.CounterVec
	Anomalies     *prometheus.CounterVec
	Verifications *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Actions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_admin_actions_total",
			Help: "Admin actions written to the admin audit chain",
		}, []string{"action"}),
		Anomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_admin_anomalies_total",
			Help: "Suspicious admin activity detected",
		}, []string{"kind"}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_admin_audit_verifications_total",
			Help: "Admin audit chain verifications by outcome",
		}, []string{"valid"}),
	}
}

func (m *Metrics) IncAction(action string) {
	m.Actions.WithLabelValues(action).Inc()
}

func (m *Metrics) IncAnomaly(kind string) {
	m.Anomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncVerification(valid bool) {
	m.Verifications.WithLabelValues(strconv.FormatBool(valid)).Inc()
}
