package positions

import (
	"testing"

	"lv-cfd/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSlippagePercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason types.ClosureReason
		want   string
	}{
		{types.ClosureReasonManualUser, "0.1"},
		{types.ClosureReasonTakeProfit, "0.1"},
		{types.ClosureReasonTrailingStop, "0.1"},
		{types.ClosureReasonTimeExpiry, "0.1"},
		{types.ClosureReasonAdminForced, "0.1"},
		{types.ClosureReasonStopLoss, "0.12"},
		{types.ClosureReasonMarginCall, "0.15"},
		{types.ClosureReasonLiquidation, "0.15"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.reason), func(t *testing.T) {
			t.Parallel()
			got := slippagePercent(tt.reason)
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

// Long position, entry 100, quantity 10, quote 110, manual close:
// slippage 0.1% of 110 = 0.11, exit 109.89, gross 98.9, commission
// 0.1% * 10 * 109.89 = 1.0989, net 97.8011.
func TestComputeClosureManualLong(t *testing.T) {
	t.Parallel()

	b := ComputeClosure(types.PositionSideLong, dec("100"), dec("110"), dec("10"), types.ClosureReasonManualUser)

	assert.True(t, b.SlippagePct.Equal(dec("0.1")))
	assert.True(t, b.ExitPrice.Equal(dec("109.89")), "exit %s", b.ExitPrice)
	assert.True(t, b.GrossPnL.Equal(dec("98.9")), "gross %s", b.GrossPnL)
	assert.True(t, b.Commission.Equal(dec("1.0989")), "commission %s", b.Commission)
	assert.True(t, b.NetPnL.Equal(dec("97.8011")), "net %s", b.NetPnL)
	assert.True(t, b.PnLPercentage.Equal(dec("9.89")), "pnl pct %s", b.PnLPercentage)
}

// Same position closed by liquidation: 1.5x slippage gives a worse exit and a
// lower net P&L than the manual close.
func TestComputeClosureLiquidationWorseFill(t *testing.T) {
	t.Parallel()

	manual := ComputeClosure(types.PositionSideLong, dec("100"), dec("110"), dec("10"), types.ClosureReasonManualUser)
	forced := ComputeClosure(types.PositionSideLong, dec("100"), dec("110"), dec("10"), types.ClosureReasonLiquidation)

	assert.True(t, forced.SlippagePct.Equal(dec("0.15")))
	assert.True(t, forced.ExitPrice.Equal(dec("109.835")), "exit %s", forced.ExitPrice)
	assert.True(t, forced.ExitPrice.LessThan(manual.ExitPrice))
	assert.True(t, forced.NetPnL.LessThan(manual.NetPnL))
}

func TestComputeClosureShort(t *testing.T) {
	t.Parallel()

	// Short entered at 100, quote dropped to 90: slippage is added to the
	// quote, exit 90.09, gross (100-90.09)*5 = 49.55.
	b := ComputeClosure(types.PositionSideShort, dec("100"), dec("90"), dec("5"), types.ClosureReasonManualUser)

	assert.True(t, b.ExitPrice.Equal(dec("90.09")), "exit %s", b.ExitPrice)
	assert.True(t, b.GrossPnL.Equal(dec("49.55")), "gross %s", b.GrossPnL)
	assert.True(t, b.PnLPercentage.Equal(dec("9.91")), "pnl pct %s", b.PnLPercentage)
}

func TestComputeClosureNetEqualsGrossMinusCommission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		side   types.PositionSide
		entry  string
		quote  string
		qty    string
		reason types.ClosureReason
	}{
		{"long win", types.PositionSideLong, "1.1000", "1.1250", "1000", types.ClosureReasonTakeProfit},
		{"long loss", types.PositionSideLong, "1.1000", "1.0500", "1000", types.ClosureReasonStopLoss},
		{"short win", types.PositionSideShort, "2400", "2350", "3", types.ClosureReasonManualUser},
		{"short loss", types.PositionSideShort, "2400", "2500", "3", types.ClosureReasonMarginCall},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := ComputeClosure(tt.side, dec(tt.entry), dec(tt.quote), dec(tt.qty), tt.reason)
			assert.True(t, b.NetPnL.Equal(b.GrossPnL.Sub(b.Commission)), "net %s gross %s commission %s", b.NetPnL, b.GrossPnL, b.Commission)
		})
	}
}

func TestAllocateCloseFull(t *testing.T) {
	t.Parallel()

	// No requested quantity closes everything and releases all held margin.
	a := AllocateClose(dec("10"), dec("500"), nil)
	assert.False(t, a.Partial)
	assert.True(t, a.CloseQty.Equal(dec("10")), "close qty %s", a.CloseQty)
	assert.True(t, a.Remaining.IsZero(), "remaining %s", a.Remaining)
	assert.True(t, a.MarginRelease.Equal(dec("500")), "release %s", a.MarginRelease)
	assert.True(t, a.MarginRemaining.IsZero(), "margin remaining %s", a.MarginRemaining)

	// Requesting exactly the open quantity behaves the same.
	q := dec("10")
	a = AllocateClose(dec("10"), dec("500"), &q)
	assert.False(t, a.Partial)
	assert.True(t, a.Remaining.IsZero())
	assert.True(t, a.MarginRemaining.IsZero())
}

func TestAllocateClosePartial(t *testing.T) {
	t.Parallel()

	q := dec("4")
	a := AllocateClose(dec("10"), dec("500"), &q)

	assert.True(t, a.Partial)
	assert.True(t, a.CloseQty.Equal(dec("4")), "close qty %s", a.CloseQty)
	assert.True(t, a.Remaining.Equal(dec("6")), "remaining %s", a.Remaining)
	assert.True(t, a.MarginRelease.Equal(dec("200")), "release %s", a.MarginRelease)
	assert.True(t, a.MarginRemaining.Equal(dec("300")), "margin remaining %s", a.MarginRemaining)

	// Nothing is created or lost by splitting.
	assert.True(t, a.CloseQty.Add(a.Remaining).Equal(dec("10")))
	assert.True(t, a.MarginRelease.Add(a.MarginRemaining).Equal(dec("500")))
}

func TestAllocateClosePartialMarginConservation(t *testing.T) {
	t.Parallel()

	// A split that does not divide evenly must still account for every cent.
	q := dec("1")
	a := AllocateClose(dec("3"), dec("100"), &q)

	assert.True(t, a.Partial)
	assert.True(t, a.MarginRelease.Add(a.MarginRemaining).Equal(dec("100")),
		"release %s + remaining %s", a.MarginRelease, a.MarginRemaining)
}

// A request above the open quantity clamps to a full close so the remainder
// lands at exactly zero instead of going negative.
func TestAllocateCloseClampsOversizedRequest(t *testing.T) {
	t.Parallel()

	q := dec("25")
	a := AllocateClose(dec("10"), dec("500"), &q)

	assert.False(t, a.Partial)
	assert.True(t, a.CloseQty.Equal(dec("10")), "close qty %s", a.CloseQty)
	assert.True(t, a.Remaining.IsZero(), "remaining %s", a.Remaining)
	assert.True(t, a.MarginRelease.Equal(dec("500")))
	assert.True(t, a.MarginRemaining.IsZero())
}

func TestExitPriceFloorsAtZero(t *testing.T) {
	t.Parallel()

	// A short exit can only move up, so only longs can hit the floor, and
	// only with a pathological quote; verify the clamp anyway.
	got := exitPrice(dec("0"), types.PositionSideLong, dec("0.1"))
	require.True(t, got.Equal(decimal.Zero))

	got = exitPrice(dec("0.0001"), types.PositionSideLong, dec("0.15"))
	assert.False(t, got.IsNegative())
}

func TestComputeClosureZeroEntryNoPercentage(t *testing.T) {
	t.Parallel()

	b := ComputeClosure(types.PositionSideLong, dec("0"), dec("10"), dec("1"), types.ClosureReasonManualUser)
	assert.True(t, b.PnLPercentage.IsZero())
}
