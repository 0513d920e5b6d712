// Package metrics exposes Prometheus instrumentation for the scoring
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_evaluations_total",
		Help: "Total number of transactions scored, labelled by status and source.",
	}, []string{"status", "source"})

	DelegateFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_delegate_fallbacks_total",
		Help: "Total number of delegate calls that fell back to local scoring, labelled by mode.",
	}, []string{"mode"})

	DegradedPredicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_degraded_predicates_total",
		Help: "Total number of predicates degraded to not-triggered due to missing history, labelled by rule type.",
	}, []string{"rule_type"})

	DuplicatesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_duplicate_transactions_total",
		Help: "Total number of records rejected with a duplicate transaction id.",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_batch_duration_ms",
		Help:    "Wall-clock duration of batch scoring in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_batch_size",
		Help:    "Number of transactions per batch request.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)
