// Package metrics provides observability for the verification orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's Prometheus collectors. Methods are
// nil-safe so wiring metrics stays optional in tests.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	Evaluations     *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// New creates and registers all verification metrics.
func New() *Metrics {
	return &Metrics{
		AttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fides_channel_attempts_total",
			Help: "Channel attempts by channel type and outcome status",
		}, []string{"channel", "status"}),

		AttemptDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fides_channel_attempt_duration_seconds",
			Help:    "Duration of server-side channel attempts by channel type",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"channel"}),

		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fides_evaluations_total",
			Help: "Aggregator evaluations by outcome and policy",
		}, []string{"outcome", "policy"}),

		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fides_stage_transitions_total",
			Help: "Session stage transitions by source and target stage",
		}, []string{"from", "to"}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fides_active_sessions",
			Help: "Sessions currently in a non-terminal stage",
		}),
	}
}

// ObserveAttempt records a channel attempt outcome.
func (m *Metrics) ObserveAttempt(channel, status string) {
	if m != nil {
		m.AttemptsTotal.WithLabelValues(channel, status).Inc()
	}
}

// ObserveAttemptDuration records how long a server-side attempt took.
func (m *Metrics) ObserveAttemptDuration(channel string, d time.Duration) {
	if m != nil {
		m.AttemptDuration.WithLabelValues(channel).Observe(d.Seconds())
	}
}

// ObserveEvaluation records an aggregator verdict.
func (m *Metrics) ObserveEvaluation(outcome, policy string) {
	if m != nil {
		m.Evaluations.WithLabelValues(outcome, policy).Inc()
	}
}

// ObserveTransition records a stage transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}
