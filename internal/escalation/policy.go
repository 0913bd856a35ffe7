package escalation

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/model"
)

// Mode selects where per-alert thresholds come from
type Mode string

const (
	// ModeRules derives thresholds from the rule entry of the alert's category
	ModeRules Mode = "rules"
	// ModeFixed applies the configured defaults to every alert
	ModeFixed Mode = "fixed"
)

// ParseMode parses a mode name. An empty value maps to ModeRules.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case "", ModeRules:
		return ModeRules, nil
	case ModeFixed:
		return ModeFixed, nil
	default:
		return "", fmt.Errorf("unknown escalation mode: %q", value)
	}
}

// CriticalThresholds apply to CRITICAL alerts
type CriticalThresholds struct {
	Level1 time.Duration
	Level2 time.Duration
	Close  time.Duration
}

// WarningThresholds apply to WARNING alerts
type WarningThresholds struct {
	Level1 time.Duration
	Close  time.Duration
}

// InfoThresholds apply to INFO alerts
type InfoThresholds struct {
	Close time.Duration
}

// Thresholds holds the elapsed-time boundaries of every severity
type Thresholds struct {
	Critical CriticalThresholds
	Warning  WarningThresholds
	Info     InfoThresholds
}

// DefaultThresholds returns the built-in boundaries
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: CriticalThresholds{
			Level1: 10 * time.Second,
			Level2: 20 * time.Second,
			Close:  30 * time.Second,
		},
		Warning: WarningThresholds{
			Level1: 20 * time.Second,
			Close:  40 * time.Second,
		},
		Info: InfoThresholds{
			Close: 20 * time.Second,
		},
	}
}

// Validate checks that every boundary is positive and that escalation steps come
// no later than the close of the same severity
func (t Thresholds) Validate() error {
	values := map[string]time.Duration{
		"critical_level1": t.Critical.Level1,
		"critical_level2": t.Critical.Level2,
		"critical_close":  t.Critical.Close,
		"warning_level1":  t.Warning.Level1,
		"warning_close":   t.Warning.Close,
		"info_close":      t.Info.Close,
	}
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("threshold %s must be positive, got %s", name, value)
		}
	}
	return t.checkOrder()
}

func (t Thresholds) checkOrder() error {
	if t.Critical.Level1 > t.Critical.Level2 || t.Critical.Level2 > t.Critical.Close {
		return fmt.Errorf("critical thresholds out of order: level1 %s, level2 %s, close %s",
			t.Critical.Level1, t.Critical.Level2, t.Critical.Close)
	}
	if t.Warning.Level1 > t.Warning.Close {
		return fmt.Errorf("warning thresholds out of order: level1 %s, close %s",
			t.Warning.Level1, t.Warning.Close)
	}
	return nil
}

// RuleLookup resolves the rule entry of a category
type RuleLookup interface {
	Lookup(category string) (model.RuleEntry, bool)
	Categories() []string
}

// Policy picks the thresholds that apply to an alert
type Policy struct {
	mode     Mode
	defaults Thresholds
	derived  map[string]Thresholds
}

// NewPolicy creates a policy. rules may be nil. In ModeRules the thresholds of every
// configured category are derived up front; entries that cannot be ordered are skipped
// with a warning and their category uses the defaults.
func NewPolicy(mode Mode, defaults Thresholds, rules RuleLookup, logger *zap.Logger) *Policy {
	if mode == "" {
		mode = ModeRules
	}
	logger = logger.Named("policy")

	p := &Policy{
		mode:     mode,
		defaults: defaults,
		derived:  make(map[string]Thresholds),
	}
	if mode == ModeRules && rules != nil {
		for _, category := range rules.Categories() {
			entry, ok := rules.Lookup(category)
			if !ok {
				continue
			}
			th, adjusted, err := derive(defaults, entry)
			if err != nil {
				logger.Warn("Ignoring rule with conflicting thresholds",
					zap.String("category", category),
					zap.Error(err))
				continue
			}
			if adjusted {
				logger.Warn("Rule thresholds adjusted so escalation precedes auto-close",
					zap.String("category", category),
					zap.Duration("critical_close", th.Critical.Close),
					zap.Duration("warning_close", th.Warning.Close),
					zap.Duration("critical_level1", th.Critical.Level1))
			}
			p.derived[category] = th
		}
	}

	logger.Info("Escalation policy ready",
		zap.String("mode", string(mode)),
		zap.Int("rules", len(p.derived)))
	return p
}

// Mode returns the configured mode
func (p *Policy) Mode() Mode {
	return p.mode
}

// For returns the thresholds for an alert of the given category
func (p *Policy) For(category string) Thresholds {
	if th, ok := p.derived[category]; ok {
		return th
	}
	return p.defaults
}

// derive overlays entry on defaults. A field the entry sets wins; a field left at its
// default is moved just far enough to keep escalation ahead of auto-close. When both
// fields are set and disagree the entry is rejected.
func derive(defaults Thresholds, entry model.RuleEntry) (Thresholds, bool, error) {
	th := defaults
	if entry.EscalateAfter > 0 {
		th.Critical.Level1 = entry.EscalateAfter
		th.Critical.Level2 = 2 * entry.EscalateAfter
		th.Warning.Level1 = entry.EscalateAfter
	}
	if entry.AutoCloseAfter > 0 {
		th.Critical.Close = entry.AutoCloseAfter
		th.Warning.Close = entry.AutoCloseAfter
		th.Info.Close = entry.AutoCloseAfter
	}
	if th.checkOrder() == nil {
		return th, false, nil
	}

	switch {
	case entry.EscalateAfter > 0 && entry.AutoCloseAfter > 0:
		return defaults, false, th.checkOrder()
	case entry.EscalateAfter > 0:
		th.Critical.Close = maxDuration(th.Critical.Close, th.Critical.Level2)
		th.Warning.Close = maxDuration(th.Warning.Close, th.Warning.Level1)
	default:
		th.Critical.Level2 = minDuration(th.Critical.Level2, th.Critical.Close)
		th.Critical.Level1 = minDuration(th.Critical.Level1, th.Critical.Level2)
		th.Warning.Level1 = minDuration(th.Warning.Level1, th.Warning.Close)
	}
	return th, true, nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
