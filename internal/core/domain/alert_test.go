package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverity_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		severity Severity
		want     bool
	}{
		{"critical is valid", SeverityCritical, true},
		{"high is valid", SeverityHigh, true},
		{"medium is valid", SeverityMedium, true},
		{"low is valid", SeverityLow, true},
		{"info is valid", SeverityInfo, true},
		{"empty is invalid", Severity(""), false},
		{"unknown is invalid", Severity("catastrophic"), false},
		{"case sensitive", Severity("Critical"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.severity.IsValid())
		})
	}
}

func TestSeverity_String(t *testing.T) {
	assert.Equal(t, "critical", SeverityCritical.String())
	assert.Equal(t, "info", SeverityInfo.String())
}

func TestAlert_Validate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		alert   Alert
		wantErr string
	}{
		{
			name: "valid minimal alert",
			alert: Alert{
				ID:          "alert-1",
				TriggeredAt: now,
			},
		},
		{
			name: "valid full alert",
			alert: Alert{
				ID:              "alert-2",
				Severity:        SeverityHigh,
				Category:        "performance",
				Title:           "High CPU usage",
				Description:     "CPU above 90% for 5 minutes",
				TriggeredAt:     now,
				SourceHost:      "web-01",
				SourceComponent: "nginx",
				Tags:            map[string]string{"team": "platform"},
				Metrics:         map[string]float64{"cpu": 0.95},
			},
		},
		{
			name: "missing ID",
			alert: Alert{
				TriggeredAt: now,
			},
			wantErr: "alert ID is required",
		},
		{
			name: "missing timestamp",
			alert: Alert{
				ID: "alert-3",
			},
			wantErr: "triggered_at timestamp is required",
		},
		{
			name: "invalid severity",
			alert: Alert{
				ID:          "alert-4",
				Severity:    Severity("urgent"),
				TriggeredAt: now,
			},
			wantErr: "invalid severity",
		},
		{
			name: "empty severity is allowed",
			alert: Alert{
				ID:          "alert-5",
				TriggeredAt: now,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alert.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
