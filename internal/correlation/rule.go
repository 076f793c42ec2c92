// Package correlation implements the correlation-and-grouping core of the
// Quell alert noise-reduction engine.
//
// Given a stream of discrete alerts, the engine determines which alerts
// represent the same underlying incident and clusters them into groups,
// using several independent detection strategies: temporal proximity, shared
// source attributes, text similarity, metric-value pattern similarity, regex
// pattern matching, a coarse time-window fallback, and a fixed-feature
// similarity heuristic.
//
// State is kept in memory for performance, with group snapshots persisted
// opportunistically to an external cache and a configurable lifecycle sweep
// to prevent memory leaks.
package correlation

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/quellhq/quell/internal/core/domain"
)

// Strategy identifies a correlation strategy variant.
type Strategy string

const (
	// StrategyTemporal scores alerts by exponential time proximity to group members
	StrategyTemporal Strategy = "temporal"
	// StrategySpatial scores alerts by shared host/component/category/tag attributes
	StrategySpatial Strategy = "spatial"
	// StrategySemantic scores alerts by title and description text similarity
	StrategySemantic Strategy = "semantic"
	// StrategyMetricPattern scores alerts by metric-value pattern similarity
	StrategyMetricPattern Strategy = "metric_pattern"
	// StrategyPatternMatch matches alerts whose text satisfies a configured regex
	StrategyPatternMatch Strategy = "pattern_match"
	// StrategyTimeWindow is a coarse fallback matching any alert within a window of group creation
	StrategyTimeWindow Strategy = "time_window"
	// StrategySimilarity is a fixed-feature heuristic comparing keyword and indicator vectors
	StrategySimilarity Strategy = "similarity"
)

// IsValid checks if the strategy is one of the defined variants.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyTemporal, StrategySpatial, StrategySemantic, StrategyMetricPattern,
		StrategyPatternMatch, StrategyTimeWindow, StrategySimilarity:
		return true
	default:
		return false
	}
}

// ErrInvalidRule is the base error for rule configuration failures. A rule
// failing validation is rejected at registration time and never becomes
// active.
var ErrInvalidRule = errors.New("invalid correlation rule")

// MaintenanceWindow is a static time interval during which a rule does not
// apply. Windows are consulted only at rule-applicability time against the
// alert's timestamp.
type MaintenanceWindow struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
}

// Contains reports whether t falls inside the window.
func (w MaintenanceWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Rule binds a correlation strategy to weights, thresholds, filters and
// suppression parameters.
type Rule struct {
	// Name is a unique human-readable identifier for the rule
	Name string `yaml:"name" json:"name"`
	// Strategy selects the evaluator bound at registration
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	// Enabled determines if the rule is active
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Priority determines evaluation order (lower = evaluated first).
	// Priority never overrides outcome selection: the globally
	// highest-scoring outcome wins regardless of which rule produced it.
	Priority int `yaml:"priority" json:"priority"`
	// Weight scales the raw strategy score before capping at 1.0
	Weight float64 `yaml:"weight" json:"weight"`

	// TimeWindow bounds temporal strategies and candidate-group selection
	TimeWindow time.Duration `yaml:"time_window" json:"time_window"`
	// MinSimilarityScore is the semantic per-member match threshold
	MinSimilarityScore float64 `yaml:"min_similarity_score" json:"min_similarity_score"`
	// MetricCorrelationThreshold is the metric-pattern per-member match threshold
	MetricCorrelationThreshold float64 `yaml:"metric_correlation_threshold" json:"metric_correlation_threshold"`
	// SimilarityThreshold is the feature-agreement match threshold
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	// HostWeight, ComponentWeight and CategoryWeight scale spatial attribute matches
	HostWeight      float64 `yaml:"host_weight" json:"host_weight"`
	ComponentWeight float64 `yaml:"component_weight" json:"component_weight"`
	CategoryWeight  float64 `yaml:"category_weight" json:"category_weight"`
	// Pattern is the regex source for the pattern-match strategy
	Pattern string `yaml:"pattern" json:"pattern"`
	// PatternScore is the fixed score for a regex match (default 0.8)
	PatternScore float64 `yaml:"pattern_score" json:"pattern_score"`

	// SuppressAfterCount suppresses a group once its membership exceeds this count (0 = never)
	SuppressAfterCount int `yaml:"suppress_after_count" json:"suppress_after_count"`
	// MaxGroupSize caps membership of groups this rule may merge into (0 = unlimited)
	MaxGroupSize int `yaml:"max_group_size" json:"max_group_size"`

	// Severities restricts the rule to matching alert severities (empty = all)
	Severities []domain.Severity `yaml:"severities,omitempty" json:"severities,omitempty"`
	// Categories restricts the rule to matching alert categories (empty = all)
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
	// MatchTags requires exact tag key/value matches on the alert
	MatchTags map[string]string `yaml:"match_tags,omitempty" json:"match_tags,omitempty"`
	// MaintenanceWindows suspend the rule for alerts triggered inside them
	MaintenanceWindows []MaintenanceWindow `yaml:"maintenance_windows,omitempty" json:"maintenance_windows,omitempty"`

	// Bound at registration time
	pattern  *regexp.Regexp
	evaluate evaluatorFunc
	seq      int
}

// Validate checks the rule configuration and compiles its regex pattern.
// Invalid rules are rejected at registration time.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !r.Strategy.IsValid() {
		return fmt.Errorf("%w %q: unknown strategy %q", ErrInvalidRule, r.Name, r.Strategy)
	}
	if r.Weight < 0 {
		return fmt.Errorf("%w %q: weight must not be negative", ErrInvalidRule, r.Name)
	}
	if r.TimeWindow < 0 {
		return fmt.Errorf("%w %q: time window must not be negative", ErrInvalidRule, r.Name)
	}
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"min_similarity_score", r.MinSimilarityScore},
		{"metric_correlation_threshold", r.MetricCorrelationThreshold},
		{"similarity_threshold", r.SimilarityThreshold},
		{"pattern_score", r.PatternScore},
	} {
		if th.value < 0 || th.value > 1 {
			return fmt.Errorf("%w %q: %s must be in [0,1]", ErrInvalidRule, r.Name, th.name)
		}
	}
	if r.HostWeight < 0 || r.ComponentWeight < 0 || r.CategoryWeight < 0 {
		return fmt.Errorf("%w %q: attribute weights must not be negative", ErrInvalidRule, r.Name)
	}
	if r.SuppressAfterCount < 0 {
		return fmt.Errorf("%w %q: suppress_after_count must not be negative", ErrInvalidRule, r.Name)
	}
	if r.MaxGroupSize < 0 {
		return fmt.Errorf("%w %q: max_group_size must not be negative", ErrInvalidRule, r.Name)
	}
	for _, sev := range r.Severities {
		if !sev.IsValid() {
			return fmt.Errorf("%w %q: invalid severity filter %q", ErrInvalidRule, r.Name, sev)
		}
	}
	if r.Strategy == StrategyPatternMatch {
		if r.Pattern == "" {
			return fmt.Errorf("%w %q: pattern is required for pattern_match", ErrInvalidRule, r.Name)
		}
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("%w %q: invalid pattern: %v", ErrInvalidRule, r.Name, err)
		}
		r.pattern = compiled
	}
	return nil
}

// AppliesTo reports whether the rule should be evaluated for the given
// alert: the rule must be enabled, outside all maintenance windows at the
// alert's timestamp, and the alert must pass the severity, category and tag
// filters.
func (r *Rule) AppliesTo(alert domain.Alert) bool {
	if !r.Enabled {
		return false
	}
	for _, w := range r.MaintenanceWindows {
		if w.Contains(alert.TriggeredAt) {
			return false
		}
	}
	if len(r.Severities) > 0 {
		found := false
		for _, sev := range r.Severities {
			if alert.Severity == sev {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.Categories) > 0 {
		found := false
		for _, cat := range r.Categories {
			if alert.Category == cat {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range r.MatchTags {
		if alert.Tags[k] != v {
			return false
		}
	}
	return true
}

// window returns the effective candidate time window for the rule, falling
// back to the supplied default when the rule does not set one.
func (r *Rule) window(fallback time.Duration) time.Duration {
	if r.TimeWindow > 0 {
		return r.TimeWindow
	}
	return fallback
}
