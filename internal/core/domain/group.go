package domain

import (
	"time"
)

// GroupStatus represents the current state of an alert group.
type GroupStatus string

// GroupStatus constants define the valid group statuses and their transitions.
const (
	GroupStatusOpen       GroupStatus = "open"
	GroupStatusSuppressed GroupStatus = "suppressed"
	GroupStatusResolved   GroupStatus = "resolved"
)

// String returns the string representation of the status.
func (s GroupStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the defined valid statuses.
func (s GroupStatus) IsValid() bool {
	switch s {
	case GroupStatusOpen, GroupStatusSuppressed, GroupStatusResolved:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the forward transition from s to target is
// permitted. Transitions are forward-only (open → suppressed,
// open/suppressed → resolved); the only backward transition is an explicit
// reopen, which is handled separately by the engine.
func (s GroupStatus) CanTransitionTo(target GroupStatus) bool {
	switch s {
	case GroupStatusOpen:
		return target == GroupStatusSuppressed || target == GroupStatusResolved
	case GroupStatusSuppressed:
		return target == GroupStatusResolved
	default:
		return false
	}
}

// Confidence is the discrete classification of a correlation score.
type Confidence int

// Confidence levels, ordered from weakest to strongest.
const (
	ConfidenceVeryLow Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceVeryHigh
)

// String returns the string representation of the confidence level.
func (c Confidence) String() string {
	switch c {
	case ConfidenceVeryHigh:
		return "very_high"
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "very_low"
	}
}

// ClassifyConfidence maps a correlation score in [0,1] to a discrete
// confidence level. The mapping is monotonic: a higher score never yields a
// lower level.
func ClassifyConfidence(score float64) Confidence {
	switch {
	case score >= 0.9:
		return ConfidenceVeryHigh
	case score >= 0.7:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	case score >= 0.3:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// AlertGroup is the aggregate of alerts judged to represent the same
// underlying incident. Groups are mutable and owned by the correlation
// engine; callers receive copies.
type AlertGroup struct {
	// ID is a unique identifier for the group
	ID string `json:"id"`
	// RootAlertID is the alert that created the group
	RootAlertID string `json:"root_alert_id"`
	// Alerts contains the member alerts in merge order (root first)
	Alerts []Alert `json:"alerts"`
	// Rules tracks which correlation rules contributed members
	Rules []string `json:"rules"`
	// ConfidenceScore is the maximum score among all merging outcomes
	ConfidenceScore float64 `json:"confidence_score"`
	// CreatedAt is when the group was first created
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the group was last modified
	UpdatedAt time.Time `json:"updated_at"`
	// Status is the group lifecycle state
	Status GroupStatus `json:"status"`
	// Evidence contains diagnostic key/value pairs from merging outcomes
	Evidence map[string]string `json:"evidence,omitempty"`
}

// MemberIDs returns the alert IDs of all members in merge order.
func (g *AlertGroup) MemberIDs() []string {
	ids := make([]string, len(g.Alerts))
	for i, a := range g.Alerts {
		ids[i] = a.ID
	}
	return ids
}

// Contains reports whether the group holds the given alert ID.
func (g *AlertGroup) Contains(alertID string) bool {
	for _, a := range g.Alerts {
		if a.ID == alertID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the group safe to hand to callers.
func (g *AlertGroup) Clone() *AlertGroup {
	clone := *g
	clone.Alerts = make([]Alert, len(g.Alerts))
	copy(clone.Alerts, g.Alerts)
	clone.Rules = make([]string, len(g.Rules))
	copy(clone.Rules, g.Rules)
	if g.Evidence != nil {
		clone.Evidence = make(map[string]string, len(g.Evidence))
		for k, v := range g.Evidence {
			clone.Evidence[k] = v
		}
	}
	return &clone
}

// Snapshot converts the group to its persisted record layout. Fields may be
// added to the layout additively without a versioning scheme.
func (g *AlertGroup) Snapshot() GroupSnapshot {
	return GroupSnapshot{
		ID:                g.ID,
		RootAlertID:       g.RootAlertID,
		MemberIDs:         g.MemberIDs(),
		ContributingRules: append([]string(nil), g.Rules...),
		ConfidenceScore:   g.ConfidenceScore,
		CreatedAt:         g.CreatedAt,
		LastUpdated:       g.UpdatedAt,
		Status:            g.Status,
	}
}

// GroupSnapshot is the record persisted to the external cache for each
// active group.
type GroupSnapshot struct {
	ID                string      `json:"id"`
	RootAlertID       string      `json:"root_alert_id"`
	MemberIDs         []string    `json:"member_ids"`
	ContributingRules []string    `json:"contributing_rules"`
	ConfidenceScore   float64     `json:"confidence_score"`
	CreatedAt         time.Time   `json:"created_at"`
	LastUpdated       time.Time   `json:"last_updated"`
	Status            GroupStatus `json:"status"`
}
