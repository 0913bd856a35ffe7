package model

import (
	"fmt"
	"strings"
	"time"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "INFO"
	AlertSeverityWarning  AlertSeverity = "WARNING"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// Valid reports whether s is one of the known severities
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityInfo, AlertSeverityWarning, AlertSeverityCritical:
		return true
	default:
		return false
	}
}

// ParseSeverity parses a severity case-insensitively. An empty value maps to INFO.
func ParseSeverity(value string) (AlertSeverity, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return AlertSeverityInfo, nil
	}
	severity := AlertSeverity(trimmed)
	if !severity.Valid() {
		return "", fmt.Errorf("unknown severity: %q", value)
	}
	return severity, nil
}

// AlertStatus represents the lifecycle status of an alert
type AlertStatus string

const (
	AlertStatusOpen AlertStatus = "OPEN"
	// AlertStatusEscalated is accepted on the wire but never assigned; escalation
	// only raises the level of an OPEN alert.
	AlertStatusEscalated  AlertStatus = "ESCALATED"
	AlertStatusAutoClosed AlertStatus = "AUTO_CLOSED"
	AlertStatusResolved   AlertStatus = "RESOLVED"
)

// Valid reports whether s is one of the known statuses
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusEscalated, AlertStatusAutoClosed, AlertStatusResolved:
		return true
	default:
		return false
	}
}

// ParseStatus parses a status case-insensitively
func ParseStatus(value string) (AlertStatus, error) {
	status := AlertStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown status: %q", value)
	}
	return status, nil
}

// Alert represents an operational alert raised against a driver
type Alert struct {
	ID              string        `json:"alertId"`
	DriverID        string        `json:"driverId"`
	Category        string        `json:"sourceType"`
	Severity        AlertSeverity `json:"severity"`
	Status          AlertStatus   `json:"status"`
	EscalationLevel int           `json:"escalationLevel"`
	Metadata        string        `json:"metadata,omitempty"`
	CreatedAt       time.Time     `json:"timestamp"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	ResolvedAt      *time.Time    `json:"resolvedAt,omitempty"`
	ClosedAt        *time.Time    `json:"closedAt,omitempty"`
}

// IsOpen reports whether the alert is still subject to the escalation sweep
func (a *Alert) IsOpen() bool {
	return a.Status == AlertStatusOpen
}

// Clone returns a deep copy of the alert
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// DriverCount is one row of the per-driver alert ranking
type DriverCount struct {
	DriverID string `json:"driverId"`
	Count    int64  `json:"count"`
}

// String formats the row the way the reporting endpoint prints it
func (d DriverCount) String() string {
	return fmt.Sprintf("%s -> %d alerts", d.DriverID, d.Count)
}

// Stats holds alert counts by status
type Stats struct {
	Total      int64 `json:"total"`
	Open       int64 `json:"open"`
	Resolved   int64 `json:"resolved"`
	AutoClosed int64 `json:"autoClosed"`
}
