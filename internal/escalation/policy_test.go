package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/t77yq/alert-escalation/internal/model"
	"github.com/t77yq/alert-escalation/internal/rules"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeRules, mode)

	mode, err = ParseMode("fixed")
	require.NoError(t, err)
	assert.Equal(t, ModeFixed, mode)

	_, err = ParseMode("adaptive")
	assert.Error(t, err)
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	th := DefaultThresholds()
	th.Warning.Close = 0
	err := th.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warning_close")

	th = DefaultThresholds()
	th.Critical.Level2 = time.Minute
	err = th.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "critical thresholds out of order")
}

func TestPolicy_For(t *testing.T) {
	source := rules.NewSource(map[string]model.RuleEntry{
		"overspeed":  {EscalateAfter: 5 * time.Minute, AutoCloseAfter: 30 * time.Minute},
		"compliance": {AutoCloseAfter: time.Hour},
	})
	defaults := DefaultThresholds()
	logger := zaptest.NewLogger(t)

	t.Run("rule derives every threshold", func(t *testing.T) {
		th := NewPolicy(ModeRules, defaults, source, logger).For("overspeed")
		assert.Equal(t, 5*time.Minute, th.Critical.Level1)
		assert.Equal(t, 10*time.Minute, th.Critical.Level2)
		assert.Equal(t, 30*time.Minute, th.Critical.Close)
		assert.Equal(t, 5*time.Minute, th.Warning.Level1)
		assert.Equal(t, 30*time.Minute, th.Warning.Close)
		assert.Equal(t, 30*time.Minute, th.Info.Close)
	})

	t.Run("zero field keeps default", func(t *testing.T) {
		th := NewPolicy(ModeRules, defaults, source, logger).For("compliance")
		assert.Equal(t, defaults.Critical.Level1, th.Critical.Level1)
		assert.Equal(t, defaults.Critical.Level2, th.Critical.Level2)
		assert.Equal(t, time.Hour, th.Critical.Close)
		assert.Equal(t, time.Hour, th.Info.Close)
	})

	t.Run("unknown category uses defaults", func(t *testing.T) {
		assert.Equal(t, defaults, NewPolicy(ModeRules, defaults, source, logger).For("feedback"))
	})

	t.Run("fixed mode ignores rules", func(t *testing.T) {
		assert.Equal(t, defaults, NewPolicy(ModeFixed, defaults, source, logger).For("overspeed"))
	})

	t.Run("nil rules", func(t *testing.T) {
		var empty *rules.Source
		assert.Equal(t, defaults, NewPolicy(ModeRules, defaults, empty, logger).For("overspeed"))
		assert.Equal(t, defaults, NewPolicy("", defaults, nil, logger).For("overspeed"))
	})
}

func TestPolicy_KeepsThresholdsOrdered(t *testing.T) {
	defaults := DefaultThresholds()
	source := rules.NewSource(map[string]model.RuleEntry{
		"overspeed":  {EscalateAfter: 5 * time.Minute},
		"feedback":   {AutoCloseAfter: 5 * time.Second},
		"compliance": {EscalateAfter: time.Hour, AutoCloseAfter: 30 * time.Minute},
	})
	core, logs := observer.New(zap.WarnLevel)
	policy := NewPolicy(ModeRules, defaults, source, zap.New(core))

	t.Run("escalation only stretches the default close", func(t *testing.T) {
		th := policy.For("overspeed")
		require.NoError(t, th.Validate())
		assert.Equal(t, 5*time.Minute, th.Critical.Level1)
		assert.Equal(t, 10*time.Minute, th.Critical.Level2)
		assert.Equal(t, 10*time.Minute, th.Critical.Close)
		assert.Equal(t, 5*time.Minute, th.Warning.Close)
		assert.Equal(t, defaults.Info.Close, th.Info.Close)

		// a CRITICAL alert reaches both levels before it closes
		alert := openAlert(model.AlertSeverityCritical, 0)
		tr, ok := Evaluate(alert, th, base.Add(5*time.Minute))
		require.True(t, ok)
		assert.Equal(t, TransitionEscalate, tr.Kind)
		Apply(alert, tr, base.Add(5*time.Minute))

		tr, ok = Evaluate(alert, th, base.Add(10*time.Minute))
		require.True(t, ok)
		assert.Equal(t, TransitionEscalate, tr.Kind)
		assert.Equal(t, 2, tr.ToLevel)
	})

	t.Run("close only pulls escalation in", func(t *testing.T) {
		th := policy.For("feedback")
		require.NoError(t, th.Validate())
		assert.Equal(t, 5*time.Second, th.Critical.Level1)
		assert.Equal(t, 5*time.Second, th.Critical.Level2)
		assert.Equal(t, 5*time.Second, th.Warning.Level1)
		assert.Equal(t, 5*time.Second, th.Info.Close)
	})

	t.Run("conflicting entry falls back to defaults", func(t *testing.T) {
		assert.Equal(t, defaults, policy.For("compliance"))
	})

	assert.Equal(t, 1, logs.FilterMessage("Ignoring rule with conflicting thresholds").Len())
	assert.Equal(t, 2, logs.FilterMessage("Rule thresholds adjusted so escalation precedes auto-close").Len())
}
