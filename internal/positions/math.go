package positions

import (
	"lv-cfd/internal/types"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// Base execution slippage, in percent of the quote.
	baseSlippagePct = decimal.RequireFromString("0.1")

	// Forced closures receive worse fills than user-initiated ones.
	forcedSlippageMult   = decimal.RequireFromString("1.5")
	stopLossSlippageMult = decimal.RequireFromString("1.2")

	// Commission, in percent of closed notional at the exit price.
	commissionRatePct = decimal.RequireFromString("0.1")
)

// Breakdown carries every number produced by closing (part of) a position.
type Breakdown struct {
	SlippagePct   decimal.Decimal
	ExitPrice     decimal.Decimal
	GrossPnL      decimal.Decimal
	Commission    decimal.Decimal
	NetPnL        decimal.Decimal
	PnLPercentage decimal.Decimal
}

func slippagePercent(reason types.ClosureReason) decimal.Decimal {
	switch {
	case reason.ForcedClosure():
		return baseSlippagePct.Mul(forcedSlippageMult)
	case reason == types.ClosureReasonStopLoss:
		return baseSlippagePct.Mul(stopLossSlippageMult)
	default:
		return baseSlippagePct
	}
}

// exitPrice applies slippage against the trader: long exits below the quote,
// short exits above it. The result never goes below zero.
func exitPrice(quote decimal.Decimal, side types.PositionSide, slippagePct decimal.Decimal) decimal.Decimal {
	slip := quote.Mul(slippagePct).Div(hundred)
	var exit decimal.Decimal
	if side == types.PositionSideLong {
		exit = quote.Sub(slip)
	} else {
		exit = quote.Add(slip)
	}
	if exit.IsNegative() {
		return decimal.Zero
	}
	return exit
}

func grossPnL(side types.PositionSide, entry, exit, quantity decimal.Decimal) decimal.Decimal {
	if side == types.PositionSideLong {
		return exit.Sub(entry).Mul(quantity)
	}
	return entry.Sub(exit).Mul(quantity)
}

// Allocation splits a close between the part being closed and the part that
// survives, apportioning the held margin proportionally.
type Allocation struct {
	CloseQty        decimal.Decimal
	Remaining       decimal.Decimal
	MarginRelease   decimal.Decimal
	MarginRemaining decimal.Decimal
	Partial         bool
}

// AllocateClose resolves how much of a position a close request takes. A nil
// or oversized requested quantity collapses to a full close, so the final
// closure always leaves remaining quantity and margin at exactly zero.
func AllocateClose(positionQty, marginUsed decimal.Decimal, requested *decimal.Decimal) Allocation {
	closeQty := positionQty
	if requested != nil && requested.LessThan(positionQty) {
		closeQty = *requested
	}
	if closeQty.Equal(positionQty) {
		return Allocation{
			CloseQty:        closeQty,
			Remaining:       decimal.Zero,
			MarginRelease:   marginUsed,
			MarginRemaining: decimal.Zero,
		}
	}
	release := marginUsed.Mul(closeQty).Div(positionQty)
	return Allocation{
		CloseQty:        closeQty,
		Remaining:       positionQty.Sub(closeQty),
		MarginRelease:   release,
		MarginRemaining: marginUsed.Sub(release),
		Partial:         true,
	}
}

// ComputeClosure derives exit price, P&L, and fees for closing quantity units
// at the given market quote. Pure; the engine wraps it in the atomic ledger
// transition.
func ComputeClosure(side types.PositionSide, entry, quote, quantity decimal.Decimal, reason types.ClosureReason) Breakdown {
	slipPct := slippagePercent(reason)
	exit := exitPrice(quote, side, slipPct)
	gross := grossPnL(side, entry, exit, quantity)
	commission := commissionRatePct.Div(hundred).Mul(quantity).Mul(exit)

	var pnlPct decimal.Decimal
	if entry.GreaterThan(decimal.Zero) {
		if side == types.PositionSideLong {
			pnlPct = exit.Sub(entry).Div(entry).Mul(hundred)
		} else {
			pnlPct = entry.Sub(exit).Div(entry).Mul(hundred)
		}
	}

	return Breakdown{
		SlippagePct:   slipPct,
		ExitPrice:     exit,
		GrossPnL:      gross,
		Commission:    commission,
		NetPnL:        gross.Sub(commission),
		PnLPercentage: pnlPct,
	}
}
