package margin

import (
	"strconv"
	"time"

	"lv-cfd/internal/model"
	"lv-cfd/internal/types"

	"github.com/shopspring/decimal"
)

var (
	warningLevel     = decimal.NewFromInt(200)
	criticalLevel    = decimal.NewFromInt(100)
	liquidationLevel = decimal.NewFromInt(50)
)

// Assess maps a margin level to a severity band. An account without leveraged
// exposure has no meaningful level and is always safe.
func Assess(level decimal.Decimal, leveraged bool) types.MarginSeverity {
	if !leveraged {
		return types.MarginSeveritySafe
	}
	switch {
	case level.GreaterThanOrEqual(warningLevel):
		return types.MarginSeveritySafe
	case level.GreaterThanOrEqual(criticalLevel):
		return types.MarginSeverityWarning
	case level.GreaterThanOrEqual(liquidationLevel):
		return types.MarginSeverityCritical
	default:
		return types.MarginSeverityLiquidationTrigger
	}
}

type planAction string

const (
	actionNone     planAction = "none"
	actionCreate   planAction = "created"
	actionRefresh  planAction = "refreshed"
	actionEscalate planAction = "escalated"
	actionResolve  planAction = "resolved"
)

type plan struct {
	action         planAction
	severity       types.MarginSeverity
	graceExpiresAt *time.Time
	liquidate      bool
}

// transition decides what to do with the user's active margin call event (nil
// when none) given the freshly assessed severity. Severity on an event only
// moves up; recovery is expressed by resolving the event, never by lowering it.
//
// CRITICAL carries a grace period: escalation to LIQUIDATION_TRIGGER waits for
// it to lapse. A level below the liquidation threshold skips the grace period
// entirely.
func transition(ev *model.MarginCallEvent, severity types.MarginSeverity, now time.Time, grace time.Duration) plan {
	if severity == types.MarginSeveritySafe {
		if ev != nil {
			return plan{action: actionResolve}
		}
		return plan{action: actionNone}
	}

	if ev == nil {
		p := plan{action: actionCreate, severity: severity}
		switch severity {
		case types.MarginSeverityCritical:
			t := now.Add(grace)
			p.graceExpiresAt = &t
		case types.MarginSeverityLiquidationTrigger:
			p.liquidate = true
		}
		return p
	}

	switch {
	case severity == types.MarginSeverityLiquidationTrigger && ev.Severity.Rank() < severity.Rank():
		return plan{action: actionEscalate, severity: types.MarginSeverityLiquidationTrigger, liquidate: true}
	case severity == types.MarginSeverityLiquidationTrigger:
		return plan{action: actionRefresh, severity: ev.Severity, liquidate: true}
	case severity == types.MarginSeverityCritical && ev.Severity == types.MarginSeverityWarning:
		t := now.Add(grace)
		return plan{action: actionEscalate, severity: types.MarginSeverityCritical, graceExpiresAt: &t}
	case severity == types.MarginSeverityCritical && ev.Severity == types.MarginSeverityCritical:
		if ev.GracePeriodExpiresAt == nil || !now.Before(*ev.GracePeriodExpiresAt) {
			return plan{action: actionEscalate, severity: types.MarginSeverityLiquidationTrigger, liquidate: true}
		}
		return plan{action: actionRefresh, severity: ev.Severity}
	case ev.Severity == types.MarginSeverityLiquidationTrigger:
		// Unwinding already started; keep forcing closures until the level
		// clears the band.
		return plan{action: actionRefresh, severity: ev.Severity, liquidate: true}
	default:
		return plan{action: actionRefresh, severity: ev.Severity}
	}
}

// notificationContent renders the user-facing message for a severity the
// account just entered.
func notificationContent(severity types.MarginSeverity, level decimal.Decimal, graceExpiresAt *time.Time, now time.Time) (types.NotificationKind, string, string) {
	levelStr := level.Round(2).String()
	switch severity {
	case types.MarginSeverityWarning:
		return types.NotificationMarginWarning, "Margin warning",
			"Margin level dropped to " + levelStr + "%. Add funds or reduce exposure to avoid a margin call."
	case types.MarginSeverityCritical:
		msg := "Margin level at " + levelStr + "%. Positions will be liquidated unless the level recovers"
		if graceExpiresAt != nil {
			mins := int(graceExpiresAt.Sub(now).Round(time.Minute) / time.Minute)
			if mins < 0 {
				mins = 0
			}
			msg += " within " + strconv.Itoa(mins) + " minutes"
		}
		return types.NotificationMarginCritical, "Margin call", msg + "."
	case types.MarginSeverityLiquidationTrigger:
		return types.NotificationMarginLiquidated, "Liquidation started",
			"Margin level fell to " + levelStr + "%. Open positions are being force-closed, largest loss first."
	default:
		return types.NotificationMarginRecovered, "Margin recovered",
			"Margin level recovered to " + levelStr + "%. The margin call has been resolved."
	}
}
