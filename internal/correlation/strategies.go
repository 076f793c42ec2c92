package correlation

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/quellhq/quell/internal/core/domain"
)

// Outcome is the result of evaluating one alert against one group under one
// rule. Outcomes are ephemeral; the winning outcome's score and evidence are
// folded into the group on merge.
type Outcome struct {
	// Matched reports whether the strategy considers the alert related to the group
	Matched bool `json:"matched"`
	// Score is the correlation strength in [0,1]
	Score float64 `json:"score"`
	// Strategy identifies the evaluator that produced the outcome
	Strategy Strategy `json:"strategy"`
	// Evidence contains diagnostic key/value pairs explaining the score
	Evidence map[string]string `json:"evidence,omitempty"`
}

// Confidence classifies the outcome's score.
func (o Outcome) Confidence() domain.Confidence {
	return domain.ClassifyConfidence(o.Score)
}

// evaluatorFunc is the common strategy contract: pure, deterministic for
// identical inputs, and tolerant of missing or empty optional fields (which
// simply fail to match).
type evaluatorFunc func(alert domain.Alert, group *domain.AlertGroup, rule *Rule) Outcome

// evaluators is the closed dispatch table mapping each strategy variant to
// its single evaluator implementation. Rules resolve their evaluator once at
// registration time.
var evaluators = map[Strategy]evaluatorFunc{
	StrategyTemporal:      evaluateTemporal,
	StrategySpatial:       evaluateSpatial,
	StrategySemantic:      evaluateSemantic,
	StrategyMetricPattern: evaluateMetricPattern,
	StrategyPatternMatch:  evaluatePatternMatch,
	StrategyTimeWindow:    evaluateTimeWindow,
	StrategySimilarity:    evaluateSimilarity,
}

// noMatch is the zero outcome for a strategy that found nothing.
func noMatch(strategy Strategy) Outcome {
	return Outcome{Strategy: strategy}
}

// capScore applies the rule weight and caps the result at 1.0.
func capScore(weight, raw float64) float64 {
	return math.Min(weight*raw, 1.0)
}

// evaluateTemporal scores the alert by exponential decay of its time
// distance to each group member. Members outside the rule's window are
// skipped entirely; a member more than minTemporalSignal away contributes
// but cannot establish a match on its own.
func evaluateTemporal(alert domain.Alert, group *domain.AlertGroup, rule *Rule) Outcome {
	const minTemporalSignal = 0.1

	if rule.TimeWindow <= 0 || len(group.Alerts) == 0 {
		return noMatch(StrategyTemporal)
	}

	total := 0.0
	considered := 0
	matched := false
	for _, m := range group.Alerts {
		dt := absDuration(alert.TriggeredAt.Sub(m.TriggeredAt))
		if dt > rule.TimeWindow {
			continue
		}
		score := temporalDecay(dt, rule.TimeWindow)
		total += score
		considered++
		if score > minTemporalSignal {
			matched = true
		}
	}
	if considered == 0 {
		return noMatch(StrategyTemporal)
	}

	avg := total / float64(considered)
	return Outcome{
		Matched:  matched,
		Score:    capScore(rule.Weight, avg),
		Strategy: StrategyTemporal,
		Evidence: map[string]string{
			"members_in_window": strconv.Itoa(considered),
			"avg_decay":         formatFloat(avg),
		},
	}
}

// evaluateSpatial scores the alert by shared source attributes with each
// member: host, component and category matches weighted by the rule, plus a
// tag-key overlap contribution capped at 1.0.
func evaluateSpatial(alert domain.Alert, group *domain.AlertGroup, rule *Rule) Outcome {
	if len(group.Alerts) == 0 {
		return noMatch(StrategySpatial)
	}

	maxPossible := rule.HostWeight + rule.ComponentWeight + rule.CategoryWeight + 1.0
	total := 0.0
	matched := false
	for _, m := range group.Alerts {
		value := 0.0
		if alert.SourceHost != "" && alert.SourceHost == m.SourceHost {
			value += rule.HostWeight
		}
		if alert.SourceComponent != "" && alert.SourceComponent == m.SourceComponent {
			value += rule.ComponentWeight
		}
		if alert.Category != "" && alert.Category == m.Category {
			value += rule.CategoryWeight
		}
		value += math.Min(tagOverlap(alert.Tags, m.Tags), 1.0)
		total += value
		if value > 0 {
			matched = true
		}
	}
	if !matched {
		return noMatch(StrategySpatial)
	}

	avg := total / float64(len(group.Alerts))
	return Outcome{
		Matched:  true,
		Score:    capScore(rule.Weight, avg/maxPossible),
		Strategy: StrategySpatial,
		Evidence: map[string]string{
			"avg_match_value": formatFloat(avg),
			"max_possible":    formatFloat(maxPossible),
		},
	}
}

// evaluateSemantic scores the alert by blended title/description text
// similarity against each member. A member whose combined similarity meets
// the rule's minimum establishes a match.
func evaluateSemantic(alert domain.Alert, group *domain.AlertGroup, rule *Rule) Outcome {
	if len(group.Alerts) == 0 {
		return noMatch(StrategySemantic)
	}

	total := 0.0
	best := 0.0
	matched := false
	for _, m := range group.Alerts {
		combined := alertTextSimilarity(alert, m)
		total += combined
		if combined > best {
			best = combined
		}
		if combined >= rule.MinSimilarityScore {
			matched = true
		}
	}
	if !matched {
		return noMatch(StrategySemantic)
	}

	avg := total / float64(len(group.Alerts))
	return Outcome{
		Matched:  true,
		Score:    capScore(rule.Weight, avg),
		Strategy: StrategySemantic,
		Evidence: map[string]string{
			"avg_similarity":  formatFloat(avg),
			"best_similarity": formatFloat(best),
		},
	}
}

// evaluateMetricPattern scores the alert by metric-value similarity over
// keys shared with each member. Alerts or members without metric mappings
// simply fail to match.
func evaluateMetricPattern(alert domain.Alert, group *domain.AlertGroup, rule *Rule) Outcome {
	if len(alert.Metrics) == 0 || len(group.Alerts) == 0 {
		return noMatch(StrategyMetricPattern)
	}

	total := 0.0
	meeting := 0
	for _, m := range group.Alerts {
		if len(m.Metrics) == 0 {
			continue
		}
		value := metricValueSimilarity(alert.Metrics, m.Metrics)
		if value >= rule.MetricCorrelationThreshold {
			total += value
			meeting++
		}
	}
	if meeting == 0 {
		return noMatch(StrategyMetricPattern)
	}

	avg := total / float64(meeting)
	return Outcome{
		Matched:  true,
		Score:    capScore(rule.Weight, avg),
		Strategy: StrategyMetricPattern,
		Evidence: map[string]string{
			"members_meeting_threshold": strconv.Itoa(meeting),
			"avg_correlation":           formatFloat(avg),
		},
	}
}

// defaultPatternScore is the fixed raw score for a regex match when the rule
// does not override it.
const defaultPatternScore = 0.8

// evaluatePatternMatch matches when the rule's regex matches the alert's
// combined title and description and at least one member's.
func evaluatePatternMatch(alert domain.Alert, group *domain.AlertGroup, rule *Rule) Outcome {
	if rule.pattern == nil || len(group.Alerts) == 0 {
		return noMatch(StrategyPatternMatch)
	}
	if !rule.pattern.MatchString(alert.Title + " " + alert.Description) {
		return noMatch(StrategyPatternMatch)
	}

	matchedMember := ""
	for _, m := range group.Alerts {
		if rule.pattern.MatchString(m.Title + " " + m.Description) {
			matchedMember = m.ID
			break
		}
	}
	if matchedMember == "" {
		return noMatch(StrategyPatternMatch)
	}

	raw := rule.PatternScore
	if raw == 0 {
		raw = defaultPatternScore
	}
	return Outcome{
		Matched:  true,
		Score:    capScore(rule.Weight, raw),
		Strategy: StrategyPatternMatch,
		Evidence: map[string]string{
			"pattern":        rule.Pattern,
			"matched_member": matchedMember,
		},
	}
}

// evaluateTimeWindow is the coarse fallback: the alert matches any group
// created within the rule's window, scored linearly by distance from group
// creation.
func evaluateTimeWindow(alert domain.Alert, group *domain.AlertGroup, rule *Rule) Outcome {
	if rule.TimeWindow <= 0 {
		return noMatch(StrategyTimeWindow)
	}
	dt := absDuration(alert.TriggeredAt.Sub(group.CreatedAt))
	if dt > rule.TimeWindow {
		return noMatch(StrategyTimeWindow)
	}

	raw := 1.0 - dt.Seconds()/rule.TimeWindow.Seconds()
	return Outcome{
		Matched:  true,
		Score:    capScore(rule.Weight, raw),
		Strategy: StrategyTimeWindow,
		Evidence: map[string]string{
			"delta_seconds": formatFloat(dt.Seconds()),
		},
	}
}

// evaluateSimilarity compares fixed feature vectors (keyword counts plus
// severity and category indicators) and matches when the agreement fraction
// with the nearest member meets the rule's threshold.
func evaluateSimilarity(alert domain.Alert, group *domain.AlertGroup, rule *Rule) Outcome {
	if len(group.Alerts) == 0 {
		return noMatch(StrategySimilarity)
	}

	vec := featureVector(alert)
	best := 0.0
	nearest := ""
	for _, m := range group.Alerts {
		agreement := featureAgreement(vec, featureVector(m))
		if agreement > best {
			best = agreement
			nearest = m.ID
		}
	}
	if best < rule.SimilarityThreshold {
		return noMatch(StrategySimilarity)
	}

	return Outcome{
		Matched:  true,
		Score:    capScore(rule.Weight, best),
		Strategy: StrategySimilarity,
		Evidence: map[string]string{
			"agreement":      formatFloat(best),
			"nearest_member": nearest,
		},
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.4f", f)
}
