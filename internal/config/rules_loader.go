// This file implements YAML-based correlation rule loading, enabling
// GitOps-friendly rule management where correlation behaviour can be
// defined in version-controlled YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quellhq/quell/internal/core/domain"
	"github.com/quellhq/quell/internal/correlation"
)

// RulesConfig represents the root structure of a rules configuration file.
type RulesConfig struct {
	// Rules contains the correlation rule definitions in declaration order
	Rules []RuleDefinition `yaml:"rules"`
}

// RuleDefinition represents a single correlation rule in YAML.
//
// Durations are expressed as Go duration strings ("10m", "1h30m") and
// converted during loading.
type RuleDefinition struct {
	Name                       string             `yaml:"name"`
	Strategy                   string             `yaml:"strategy"`
	Enabled                    *bool              `yaml:"enabled,omitempty"`
	Priority                   int                `yaml:"priority"`
	Weight                     float64            `yaml:"weight"`
	TimeWindow                 string             `yaml:"time_window,omitempty"`
	MinSimilarityScore         float64            `yaml:"min_similarity_score,omitempty"`
	MetricCorrelationThreshold float64            `yaml:"metric_correlation_threshold,omitempty"`
	SimilarityThreshold        float64            `yaml:"similarity_threshold,omitempty"`
	HostWeight                 float64            `yaml:"host_weight,omitempty"`
	ComponentWeight            float64            `yaml:"component_weight,omitempty"`
	CategoryWeight             float64            `yaml:"category_weight,omitempty"`
	Pattern                    string             `yaml:"pattern,omitempty"`
	PatternScore               float64            `yaml:"pattern_score,omitempty"`
	SuppressAfterCount         int                `yaml:"suppress_after_count,omitempty"`
	MaxGroupSize               int                `yaml:"max_group_size,omitempty"`
	Severities                 []string           `yaml:"severities,omitempty"`
	Categories                 []string           `yaml:"categories,omitempty"`
	MatchTags                  map[string]string  `yaml:"match_tags,omitempty"`
	MaintenanceWindows         []WindowDefinition `yaml:"maintenance_windows,omitempty"`
}

// WindowDefinition represents a maintenance window in YAML (RFC 3339
// timestamps).
type WindowDefinition struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// LoadRulesFromFile loads correlation rules from a YAML file.
//
// The file should follow the expected structure with a top-level "rules"
// key containing rule definitions. Returns the rules in declaration order
// or an error if loading fails.
func LoadRulesFromFile(filename string) ([]correlation.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules config file %s: %w", filename, err)
	}
	return LoadRulesFromYAML(data)
}

// LoadRulesFromYAML loads correlation rules from YAML data.
//
// Each definition is converted and validated; a single invalid rule fails
// the whole load so that misconfiguration is caught at startup rather than
// silently dropping rules.
func LoadRulesFromYAML(data []byte) ([]correlation.Rule, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	rules := make([]correlation.Rule, 0, len(config.Rules))
	for _, definition := range config.Rules {
		rule, err := convertToRule(definition)
		if err != nil {
			return nil, fmt.Errorf("failed to convert rule %q: %w", definition.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// convertToRule converts a YAML rule definition to a correlation.Rule,
// handling defaults, duration parsing and validation.
func convertToRule(definition RuleDefinition) (correlation.Rule, error) {
	enabled := true
	if definition.Enabled != nil {
		enabled = *definition.Enabled
	}

	var window time.Duration
	if definition.TimeWindow != "" {
		parsed, err := time.ParseDuration(definition.TimeWindow)
		if err != nil {
			return correlation.Rule{}, fmt.Errorf("invalid time_window: %w", err)
		}
		window = parsed
	}

	severities := make([]domain.Severity, 0, len(definition.Severities))
	for _, s := range definition.Severities {
		severities = append(severities, domain.Severity(s))
	}

	windows := make([]correlation.MaintenanceWindow, 0, len(definition.MaintenanceWindows))
	for _, w := range definition.MaintenanceWindows {
		start, err := time.Parse(time.RFC3339, w.Start)
		if err != nil {
			return correlation.Rule{}, fmt.Errorf("invalid maintenance window start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, w.End)
		if err != nil {
			return correlation.Rule{}, fmt.Errorf("invalid maintenance window end: %w", err)
		}
		if end.Before(start) {
			return correlation.Rule{}, fmt.Errorf("maintenance window end precedes start")
		}
		windows = append(windows, correlation.MaintenanceWindow{Start: start, End: end})
	}

	rule := correlation.Rule{
		Name:                       definition.Name,
		Strategy:                   correlation.Strategy(definition.Strategy),
		Enabled:                    enabled,
		Priority:                   definition.Priority,
		Weight:                     definition.Weight,
		TimeWindow:                 window,
		MinSimilarityScore:         definition.MinSimilarityScore,
		MetricCorrelationThreshold: definition.MetricCorrelationThreshold,
		SimilarityThreshold:        definition.SimilarityThreshold,
		HostWeight:                 definition.HostWeight,
		ComponentWeight:            definition.ComponentWeight,
		CategoryWeight:             definition.CategoryWeight,
		Pattern:                    definition.Pattern,
		PatternScore:               definition.PatternScore,
		SuppressAfterCount:         definition.SuppressAfterCount,
		MaxGroupSize:               definition.MaxGroupSize,
		Severities:                 severities,
		Categories:                 definition.Categories,
		MatchTags:                  definition.MatchTags,
		MaintenanceWindows:         windows,
	}

	if err := rule.Validate(); err != nil {
		return correlation.Rule{}, err
	}
	return rule, nil
}
