package model

import "time"

// AlertEventType represents a lifecycle change published for an alert
type AlertEventType string

const (
	AlertEventCreated    AlertEventType = "created"
	AlertEventEscalated  AlertEventType = "escalated"
	AlertEventAutoClosed AlertEventType = "auto_closed"
	AlertEventResolved   AlertEventType = "resolved"
)

// AlertEvent represents a lifecycle update
type AlertEvent struct {
	Type  AlertEventType `json:"type"`
	Alert Alert          `json:"alert"`
	At    time.Time      `json:"at"`
}
