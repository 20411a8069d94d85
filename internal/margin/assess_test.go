package margin

import (
	"strings"
	"testing"
	"time"

	"lv-cfd/internal/model"
	"lv-cfd/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAssessBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  types.MarginSeverity
	}{
		{"350", types.MarginSeveritySafe},
		{"200", types.MarginSeveritySafe},
		{"199.99", types.MarginSeverityWarning},
		{"100", types.MarginSeverityWarning},
		{"99.99", types.MarginSeverityCritical},
		{"50", types.MarginSeverityCritical},
		{"49.99", types.MarginSeverityLiquidationTrigger},
		{"0", types.MarginSeverityLiquidationTrigger},
		{"-10", types.MarginSeverityLiquidationTrigger},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Assess(dec(tt.level), true))
		})
	}
}

func TestAssessNoExposureIsSafe(t *testing.T) {
	t.Parallel()

	// Level is meaningless without margin in use; even zero maps to safe.
	assert.Equal(t, types.MarginSeveritySafe, Assess(decimal.Zero, false))
}

func activeEvent(severity types.MarginSeverity, triggeredAt time.Time, graceExpiresAt *time.Time) *model.MarginCallEvent {
	return &model.MarginCallEvent{
		ID:                   "ev1",
		UserID:               "u1",
		Status:               types.MarginCallStatusNotified,
		Severity:             severity,
		TriggeredAt:          triggeredAt,
		GracePeriodExpiresAt: graceExpiresAt,
	}
}

// A first margin call in the WARNING band opens with no grace period.
func TestTransitionOpensWarning(t *testing.T) {
	t.Parallel()

	level := dec("15000").Div(dec("10000")).Mul(dec("100"))
	require.Equal(t, types.MarginSeverityWarning, Assess(level, true))

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	p := transition(nil, types.MarginSeverityWarning, now, 30*time.Minute)

	assert.Equal(t, actionCreate, p.action)
	assert.Equal(t, types.MarginSeverityWarning, p.severity)
	assert.Nil(t, p.graceExpiresAt)
	assert.False(t, p.liquidate)
}

// Equity 10,000 against margin 11,000 gives a level around 90.9%, inside the
// CRITICAL band. A first evaluation there opens the event with the grace
// clock running rather than liquidating on the spot.
func TestTransitionFirstBreachBelowHundredOpensCritical(t *testing.T) {
	t.Parallel()

	level := dec("10000").Div(dec("11000")).Mul(dec("100"))
	severity := Assess(level, true)
	require.Equal(t, types.MarginSeverityCritical, severity)

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	p := transition(nil, severity, now, 30*time.Minute)

	assert.Equal(t, actionCreate, p.action)
	assert.Equal(t, types.MarginSeverityCritical, p.severity)
	require.NotNil(t, p.graceExpiresAt)
	assert.Equal(t, now.Add(30*time.Minute), *p.graceExpiresAt)
	assert.False(t, p.liquidate)
}

func TestTransitionOpensCriticalWithGrace(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	p := transition(nil, types.MarginSeverityCritical, now, 30*time.Minute)

	assert.Equal(t, actionCreate, p.action)
	require.NotNil(t, p.graceExpiresAt)
	assert.Equal(t, now.Add(30*time.Minute), *p.graceExpiresAt)
	assert.False(t, p.liquidate)
}

// A level below the liquidation threshold never waits for grace.
func TestTransitionImmediateLiquidation(t *testing.T) {
	t.Parallel()

	level := dec("40")
	require.Equal(t, types.MarginSeverityLiquidationTrigger, Assess(level, true))

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	p := transition(nil, types.MarginSeverityLiquidationTrigger, now, 30*time.Minute)
	assert.Equal(t, actionCreate, p.action)
	assert.True(t, p.liquidate)

	// Same when an event already exists at a lower severity.
	ev := activeEvent(types.MarginSeverityWarning, now.Add(-time.Hour), nil)
	p = transition(ev, types.MarginSeverityLiquidationTrigger, now, 30*time.Minute)
	assert.Equal(t, actionEscalate, p.action)
	assert.Equal(t, types.MarginSeverityLiquidationTrigger, p.severity)
	assert.True(t, p.liquidate)
}

func TestTransitionWarningToCritical(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	ev := activeEvent(types.MarginSeverityWarning, now.Add(-10*time.Minute), nil)

	p := transition(ev, types.MarginSeverityCritical, now, 30*time.Minute)

	assert.Equal(t, actionEscalate, p.action)
	assert.Equal(t, types.MarginSeverityCritical, p.severity)
	require.NotNil(t, p.graceExpiresAt)
	assert.Equal(t, now.Add(30*time.Minute), *p.graceExpiresAt)
	assert.False(t, p.liquidate)
}

func TestTransitionCriticalHoldsDuringGrace(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	graceEnd := now.Add(20 * time.Minute)
	ev := activeEvent(types.MarginSeverityCritical, now.Add(-10*time.Minute), &graceEnd)

	p := transition(ev, types.MarginSeverityCritical, now, 30*time.Minute)

	assert.Equal(t, actionRefresh, p.action)
	assert.False(t, p.liquidate)
}

func TestTransitionCriticalEscalatesAtGraceExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	graceEnd := now // exactly expired
	ev := activeEvent(types.MarginSeverityCritical, now.Add(-30*time.Minute), &graceEnd)

	p := transition(ev, types.MarginSeverityCritical, now, 30*time.Minute)

	assert.Equal(t, actionEscalate, p.action)
	assert.Equal(t, types.MarginSeverityLiquidationTrigger, p.severity)
	assert.True(t, p.liquidate)
}

// Severity on an event never goes down. A bounce from CRITICAL back into the
// WARNING band refreshes the snapshot without de-escalating.
func TestTransitionSeverityIsMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	graceEnd := now.Add(20 * time.Minute)
	ev := activeEvent(types.MarginSeverityCritical, now.Add(-10*time.Minute), &graceEnd)

	p := transition(ev, types.MarginSeverityWarning, now, 30*time.Minute)

	assert.Equal(t, actionRefresh, p.action)
	assert.Equal(t, types.MarginSeverityCritical, p.severity)
	assert.False(t, p.liquidate)
}

func TestTransitionResolvesOnRecovery(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	ev := activeEvent(types.MarginSeverityCritical, now.Add(-10*time.Minute), nil)

	p := transition(ev, types.MarginSeveritySafe, now, 30*time.Minute)
	assert.Equal(t, actionResolve, p.action)

	// No event and safe: nothing to do.
	p = transition(nil, types.MarginSeveritySafe, now, 30*time.Minute)
	assert.Equal(t, actionNone, p.action)
}

// While an event sits at LIQUIDATION_TRIGGER, any still-dangerous level keeps
// forcing closures; partial unwinding must not stall.
func TestTransitionKeepsLiquidatingUntilRecovered(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	ev := activeEvent(types.MarginSeverityLiquidationTrigger, now.Add(-time.Minute), nil)

	for _, severity := range []types.MarginSeverity{
		types.MarginSeverityWarning,
		types.MarginSeverityCritical,
		types.MarginSeverityLiquidationTrigger,
	} {
		p := transition(ev, severity, now, 30*time.Minute)
		assert.Equal(t, actionRefresh, p.action, "severity %s", severity)
		assert.True(t, p.liquidate, "severity %s", severity)
	}
}

func TestNotificationContent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	kind, _, msg := notificationContent(types.MarginSeverityWarning, dec("150.5"), nil, now)
	assert.Equal(t, types.NotificationMarginWarning, kind)
	assert.Contains(t, msg, "150.5%")

	graceEnd := now.Add(30 * time.Minute)
	kind, _, msg = notificationContent(types.MarginSeverityCritical, dec("75"), &graceEnd, now)
	assert.Equal(t, types.NotificationMarginCritical, kind)
	assert.Contains(t, msg, "75%")
	assert.Contains(t, msg, "30 minutes")

	kind, _, msg = notificationContent(types.MarginSeverityLiquidationTrigger, dec("42.123"), nil, now)
	assert.Equal(t, types.NotificationMarginLiquidated, kind)
	assert.Contains(t, msg, "42.12%")
	assert.True(t, strings.Contains(msg, "force-closed"))

	kind, _, _ = notificationContent(types.MarginSeveritySafe, dec("250"), nil, now)
	assert.Equal(t, types.NotificationMarginRecovered, kind)
}
