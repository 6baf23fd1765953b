// Package metrics defines the Prometheus counters and the reconcile
// duration histogram opsnavd exposes on /metrics: reconcile cycles, clone
// outcomes, task outcomes, and power actions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileTotal counts completed reconcile cycles by outcome.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsnav_reconcile_total",
		Help: "Total number of inventory reconcile cycles, by result.",
	}, []string{"result"})

	// ReconcileDuration observes how long a single host reconcile takes.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsnav_reconcile_duration_seconds",
		Help:    "Duration of a single host reconcile cycle.",
		Buckets: prometheus.DefBuckets,
	})

	// ClonePhaseTotal counts clone outcomes by phase and result; the clone
	// workflow records only its overall outcome, under phase "clone".
	ClonePhaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsnav_clone_phase_total",
		Help: "Total number of clone phase completions, by phase and result.",
	}, []string{"phase", "result"})

	// TaskOutcomeTotal counts finished async tasks by kind and final status.
	TaskOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsnav_task_outcome_total",
		Help: "Total number of finished async tasks, by kind and final status.",
	}, []string{"kind", "status"})

	// PowerActionTotal counts power-control calls by action and result.
	PowerActionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsnav_power_action_total",
		Help: "Total number of power actions applied, by action and result.",
	}, []string{"action", "result"})
)
