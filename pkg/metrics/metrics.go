// Package metrics registers the Prometheus collectors for the learning
// core's own operations: session lifecycle, selection latency, knowledge
// module outcomes, and approval decisions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medlearn_sessions_created_total",
		Help: "Sessions created, labeled by mode.",
	}, []string{"mode"})

	SessionsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medlearn_sessions_submitted_total",
		Help: "Sessions transitioned to SUBMITTED or EXPIRED, labeled by terminal status.",
	}, []string{"status"})

	SelectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medlearn_selection_duration_seconds",
		Help:    "Wall-clock time spent running the adaptive selection pipeline.",
		Buckets: prometheus.DefBuckets,
	})

	SupplyShortfallTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medlearn_selection_supply_shortfall_total",
		Help: "Session creations rejected because the selection plan under-filled the requested count.",
	})

	AlgorithmRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medlearn_algorithm_runs_total",
		Help: "Telemetry pipeline module runs, labeled by module and terminal status.",
	}, []string{"module", "status"})

	BanditPosteriorUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medlearn_bandit_posterior_updates_total",
		Help: "Beta posterior updates applied across all learner/theme pairs.",
	})

	EloRecenterTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medlearn_elo_recenter_total",
		Help: "Elo mean-rating recenter sweeps executed.",
	})

	ApprovalDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medlearn_approval_decisions_total",
		Help: "Two-person approval requests resolved, labeled by action type and decision.",
	}, []string{"action_type", "decision"})

	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medlearn_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter, labeled by fail-open/fail-closed degraded mode.",
	}, []string{"degraded"})
)

// RecordSessionCreated increments the session-created counter for mode.
func RecordSessionCreated(mode string) {
	SessionsCreatedTotal.WithLabelValues(mode).Inc()
}

// RecordSessionTerminal increments the submitted/expired counter for status.
func RecordSessionTerminal(status string) {
	SessionsSubmittedTotal.WithLabelValues(status).Inc()
}

// ObserveSelectionDuration records how long one selection pipeline run took.
func ObserveSelectionDuration(d time.Duration) {
	SelectionDuration.Observe(d.Seconds())
}

// RecordAlgorithmRun increments the per-module outcome counter.
func RecordAlgorithmRun(module, status string) {
	AlgorithmRunsTotal.WithLabelValues(module, status).Inc()
}

// RecordApprovalDecision increments the approval-outcome counter.
func RecordApprovalDecision(actionType, decision string) {
	ApprovalDecisionsTotal.WithLabelValues(actionType, decision).Inc()
}

// RecordRateLimitRejection increments the rejection counter, labeling
// whether the rejection came from a degraded (backing-store-unreachable)
// fail-closed decision or a genuine over-limit count.
func RecordRateLimitRejection(degraded bool) {
	RateLimitRejectionsTotal.WithLabelValues(boolLabel(degraded)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
