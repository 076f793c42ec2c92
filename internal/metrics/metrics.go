// Package metrics exposes Prometheus collectors for the correlation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for alert processing outcomes.
const (
	ResultCreated    = "created"
	ResultCorrelated = "correlated"
	ResultRejected   = "rejected"
)

var (
	alertsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quell",
			Name:      "alerts_processed_total",
			Help:      "Total number of alerts processed, partitioned by result.",
		},
		[]string{"result"},
	)

	strategyMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quell",
			Name:      "strategy_matches_total",
			Help:      "Winning correlation merges, partitioned by strategy.",
		},
		[]string{"strategy"},
	)

	evaluatorFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quell",
			Name:      "evaluator_failures_total",
			Help:      "Strategy evaluator failures recovered as non-matches.",
		},
	)

	persistenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quell",
			Name:      "persistence_failures_total",
			Help:      "Failed group snapshot writes to the external cache.",
		},
	)

	activeGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quell",
			Name:      "active_groups",
			Help:      "Current number of alert groups held in the store.",
		},
	)

	processDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quell",
			Name:      "process_seconds",
			Help:      "Alert processing latency in seconds.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)
)

// Register attaches quell collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		alertsProcessedTotal,
		strategyMatchesTotal,
		evaluatorFailuresTotal,
		persistenceFailuresTotal,
		activeGroups,
		processDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveProcess records one Process call with its result label.
func ObserveProcess(duration time.Duration, result string) {
	alertsProcessedTotal.WithLabelValues(result).Inc()
	if duration < 0 {
		duration = 0
	}
	processDurationSeconds.Observe(duration.Seconds())
}

// RecordStrategyMatch counts a winning merge for the given strategy.
func RecordStrategyMatch(strategy string) {
	strategyMatchesTotal.WithLabelValues(strategy).Inc()
}

// RecordEvaluatorFailure counts an evaluator failure recovered as a
// non-match.
func RecordEvaluatorFailure() {
	evaluatorFailuresTotal.Inc()
}

// RecordPersistenceFailure counts a failed snapshot write.
func RecordPersistenceFailure() {
	persistenceFailuresTotal.Inc()
}

// SetActiveGroups updates the active group gauge.
func SetActiveGroups(n int) {
	activeGroups.Set(float64(n))
}
