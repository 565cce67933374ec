// Package metrics exposes evaluation progress as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region collectors
// Metrics holds the collectors of one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// rolloutsTotal counts finished rollouts by policy and outcome
	rolloutsTotal *prometheus.CounterVec

	// rolloutSteps tracks trajectory length per policy
	rolloutSteps *prometheus.HistogramVec

	// invalidTotal counts illegal moves by subtype
	invalidTotal *prometheus.CounterVec

	// policyErrors counts aborted rollouts and forcing passes
	policyErrors *prometheus.CounterVec

	// successRate, forcingAccuracy and gap hold the last report per policy
	successRate     *prometheus.GaugeVec
	forcingAccuracy *prometheus.GaugeVec
	gap             *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rolloutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolleval_rollouts_total",
			Help: "Finished rollouts by policy and outcome",
		}, []string{"policy", "outcome"}),
		rolloutSteps: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rolleval_rollout_steps",
			Help:    "Steps per finished rollout",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
		}, []string{"policy"}),
		invalidTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolleval_invalid_actions_total",
			Help: "Illegal moves by policy and subtype",
		}, []string{"policy", "kind"}),
		policyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolleval_policy_errors_total",
			Help: "Policy contract violations by phase",
		}, []string{"policy", "phase"}),
		successRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rolleval_success_rate",
			Help: "Autoregressive success rate of the last run",
		}, []string{"policy"}),
		forcingAccuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rolleval_teacher_forcing_accuracy",
			Help: "Teacher-forcing accuracy of the last run",
		}, []string{"policy"}),
		gap: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rolleval_gap",
			Help: "Teacher-forcing accuracy minus success rate of the last run",
		}, []string{"policy"}),
	}
}

// #endregion collectors

// #region recording
// ObserveRollout records one sealed trajectory.
func (m *Metrics) ObserveRollout(policyID string, t *trajectory.Trajectory) {
	if m == nil {
		return
	}
	m.rolloutsTotal.WithLabelValues(policyID, t.Outcome().String()).Inc()
	m.rolloutSteps.WithLabelValues(policyID).Observe(float64(t.Len()))
	for _, st := range t.Steps() {
		if !st.Valid && st.InvalidKind != "" {
			m.invalidTotal.WithLabelValues(policyID, string(st.InvalidKind)).Inc()
		}
	}
}

// PolicyError records an aborted rollout ("rollout") or forcing pass ("forcing").
func (m *Metrics) PolicyError(policyID, phase string) {
	if m == nil {
		return
	}
	m.policyErrors.WithLabelValues(policyID, phase).Inc()
}

// ObserveRun sets the run-level gauges. Undefined measures are left untouched.
func (m *Metrics) ObserveRun(policyID string, forcing, success, gap eval.Measure) {
	if m == nil {
		return
	}
	set := func(g *prometheus.GaugeVec, v eval.Measure) {
		if v.Defined {
			g.WithLabelValues(policyID).Set(v.Value)
		}
	}
	set(m.forcingAccuracy, forcing)
	set(m.successRate, success)
	set(m.gap, gap)
}

// #endregion recording
