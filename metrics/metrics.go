// Package metrics exposes Prometheus collectors for the detection and
// correlation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_rules_evaluated_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"rule_id"},
	)

	RuleTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_rule_timeouts_total",
			Help: "Total number of rule evaluations abandoned for exceeding the execution budget",
		},
		[]string{"rule_id"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"severity"},
	)

	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alerts_deduplicated_total",
			Help: "Total number of alerts folded into an existing alert by fingerprint",
		},
	)

	CorrelationsPerformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_correlations_performed_total",
			Help: "Total number of correlation runs",
		},
	)

	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_escalations_total",
			Help: "Total number of correlation groups escalated",
		},
	)

	GoroutinePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_goroutine_panics_total",
			Help: "Total number of panics recovered in detached goroutines",
		},
		[]string{"component"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_evaluation_duration_seconds",
			Help:    "Time taken to evaluate the full rule set against one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	CorrelationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_correlation_duration_seconds",
			Help:    "Time taken to correlate one alert",
			Buckets: prometheus.DefBuckets,
		},
	)
)
