package correlation

import (
	"time"
)

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	// TotalProcessed is the total number of alerts accepted by Process
	TotalProcessed int64 `json:"total_processed"`
	// TotalCorrelated is the number of alerts merged into existing groups
	TotalCorrelated int64 `json:"total_correlated"`
	// GroupsCreated is the total number of groups created
	GroupsCreated int64 `json:"groups_created"`
	// GroupsSuppressed is the total number of suppression transitions
	GroupsSuppressed int64 `json:"groups_suppressed"`
	// StrategyMatches counts winning merges per strategy
	StrategyMatches map[Strategy]int64 `json:"strategy_matches"`
	// EvaluationFailures counts evaluator panics recovered as non-matches
	EvaluationFailures int64 `json:"evaluation_failures"`
	// PersistenceFailures counts failed snapshot writes to the cache
	PersistenceFailures int64 `json:"persistence_failures"`
	// ActiveGroups is the current number of groups in the store
	ActiveGroups int `json:"active_groups"`
	// AvgProcessingLatencyMs is the mean Process latency over a rolling window
	AvgProcessingLatencyMs float64 `json:"avg_processing_latency_ms"`
}

// latencyWindow stores recent Process durations in a fixed-size ring and
// reports their mean. Callers must hold the engine lock.
type latencyWindow struct {
	samples []time.Duration
	next    int
	filled  bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) observe(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *latencyWindow) averageMs() float64 {
	count := w.next
	if w.filled {
		count = len(w.samples)
	}
	if count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < count; i++ {
		total += w.samples[i]
	}
	return float64(total.Microseconds()) / float64(count) / 1000.0
}
