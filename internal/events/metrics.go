package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts events in Prometheus.
type Metrics struct {
	tokensGranted *prometheus.CounterVec
	grantFailures *prometheus.CounterVec
	umaDecisions  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tokensGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uma_tokens_granted_total",
				Help: "Tokens issued, by grant type",
			},
			[]string{"grant_type"},
		),
		grantFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uma_grant_failures_total",
				Help: "Rejected token requests, by grant type and OAuth error code",
			},
			[]string{"grant_type", "error"},
		),
		umaDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uma_ticket_decisions_total",
				Help: "UMA ticket evaluations, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) TokenGranted(_ context.Context, event TokenGranted) {
	m.tokensGranted.WithLabelValues(event.GrantType).Inc()
}

func (m *Metrics) GrantFailed(_ context.Context, event GrantFailed) {
	m.grantFailures.WithLabelValues(event.GrantType, event.Code).Inc()
}

func (m *Metrics) UMADecision(_ context.Context, event UMADecision) {
	m.umaDecisions.WithLabelValues(event.Outcome).Inc()
}
