package escalation

import (
	"time"

	"github.com/t77yq/alert-escalation/internal/model"
)

// TransitionKind identifies what a sweep does to an alert
type TransitionKind string

const (
	TransitionEscalate  TransitionKind = "escalate"
	TransitionAutoClose TransitionKind = "auto_close"
)

// Transition is one state change decided for an OPEN alert
type Transition struct {
	Kind      TransitionKind
	FromLevel int
	ToLevel   int
}

// Event returns the lifecycle event emitted for the transition
func (t Transition) Event() model.AlertEventType {
	if t.Kind == TransitionAutoClose {
		return model.AlertEventAutoClosed
	}
	return model.AlertEventEscalated
}

// Evaluate decides the transition an alert takes at now. The checks run in order and
// the first match wins, so an alert moves at most one step per call.
func Evaluate(alert *model.Alert, th Thresholds, now time.Time) (Transition, bool) {
	if alert == nil || !alert.IsOpen() || alert.CreatedAt.IsZero() {
		return Transition{}, false
	}
	severity, err := model.ParseSeverity(string(alert.Severity))
	if err != nil {
		return Transition{}, false
	}

	elapsed := now.Sub(alert.CreatedAt)
	level := alert.EscalationLevel

	switch severity {
	case model.AlertSeverityCritical:
		switch {
		case elapsed >= th.Critical.Level1 && level == 0:
			return escalate(level, 1), true
		case elapsed >= th.Critical.Level2 && level == 1:
			return escalate(level, 2), true
		case elapsed >= th.Critical.Close:
			return autoClose(level), true
		}
	case model.AlertSeverityWarning:
		switch {
		case elapsed >= th.Warning.Level1 && level == 0:
			return escalate(level, 1), true
		case elapsed >= th.Warning.Close:
			return autoClose(level), true
		}
	case model.AlertSeverityInfo:
		if elapsed >= th.Info.Close {
			return autoClose(level), true
		}
	}
	return Transition{}, false
}

// Apply writes the transition into alert
func Apply(alert *model.Alert, t Transition, now time.Time) {
	switch t.Kind {
	case TransitionEscalate:
		alert.EscalationLevel = t.ToLevel
	case TransitionAutoClose:
		alert.Status = model.AlertStatusAutoClosed
		closedAt := now
		alert.ClosedAt = &closedAt
	}
	alert.UpdatedAt = now
}

func escalate(from, to int) Transition {
	return Transition{Kind: TransitionEscalate, FromLevel: from, ToLevel: to}
}

func autoClose(level int) Transition {
	return Transition{Kind: TransitionAutoClose, FromLevel: level, ToLevel: level}
}
