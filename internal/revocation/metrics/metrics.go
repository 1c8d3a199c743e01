package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the revocation workflow.
type Metrics struct {
	// Actions counts committed workflow steps (initiated, approved, rejected,
	// executed, appeal_filed, appeal_upheld, appeal_granted).
	Actions *prometheus.CounterVec

	Open prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Actions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_revocation_actions_total",
			Help: "Revocation workflow steps by action",
		}, []string{"action"}),
		Open: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "certledger_revocations_open",
			Help: "Revocations initiated but not yet executed or rejected in this process",
		}),
	}
}

func (m *Metrics) IncAction(action string) {
	if m != nil {
		m.Actions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) OpenChanged(delta float64) {
	if m != nil {
		m.Open.Add(delta)
	}
}
