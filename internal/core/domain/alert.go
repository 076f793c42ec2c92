// Package domain contains the core domain models for the Quell alert
// correlation engine.
//
// This package defines the fundamental types for alerts, alert groups, and
// correlation confidence without any external dependencies.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Severity represents the criticality level of an alert.
type Severity string

// Severity constants define the valid alert severity levels.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the defined valid severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	default:
		return false
	}
}

// Alert represents a single detected anomaly or event entering the
// correlation engine. Alerts are immutable once received.
type Alert struct {
	ID              string             `json:"id"`
	Severity        Severity           `json:"severity"`
	Category        string             `json:"category"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	TriggeredAt     time.Time          `json:"triggered_at"`
	SourceHost      string             `json:"source_host"`
	SourceComponent string             `json:"source_component"`
	Tags            map[string]string  `json:"tags,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	// Synthetic marks test or probe alerts that must never be correlated.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Validate checks if the alert has all required fields and valid values.
//
// Only structurally invalid input is rejected; optional fields (tags,
// metrics, source attribution) may be empty.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID is required")
	}
	if a.TriggeredAt.IsZero() {
		return errors.New("alert triggered_at timestamp is required")
	}
	if a.Severity != "" && !a.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", a.Severity)
	}
	return nil
}
