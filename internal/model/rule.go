package model

import "time"

// RuleEntry holds the per-category escalation thresholds
type RuleEntry struct {
	Category       string        `json:"category"`
	EscalateAfter  time.Duration `json:"escalate_after"`
	AutoCloseAfter time.Duration `json:"auto_close_after"`
}
