package model

import (
	"time"

	"lv-cfd/internal/types"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Symbol         string            `json:"symbol"`
	Side           types.OrderSide   `json:"side"`
	Type           types.OrderType   `json:"type"`
	Status         types.OrderStatus `json:"status"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Price          *decimal.Decimal  `json:"price,omitempty"`
	StopPrice      *decimal.Decimal  `json:"stop_price,omitempty"`
	StopLoss       *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit     *decimal.Decimal  `json:"take_profit,omitempty"`
	Leverage       int               `json:"leverage"`
	IdempotencyKey string            `json:"idempotency_key"`
	PositionID     *string           `json:"position_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type Position struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	Symbol     string               `json:"symbol"`
	Side       types.PositionSide   `json:"side"`
	Quantity   decimal.Decimal      `json:"quantity"`
	EntryPrice decimal.Decimal      `json:"entry_price"`
	Status     types.PositionStatus `json:"status"`
	Leverage   int                  `json:"leverage"`
	MarginUsed decimal.Decimal      `json:"margin_used"`
	StopLoss   *decimal.Decimal     `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal     `json:"take_profit,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// PositionClosure is the append-only audit record, one row per close or
// partial-close event.
type PositionClosure struct {
	ID             string              `json:"id"`
	PositionID     string              `json:"position_id"`
	UserID         string              `json:"user_id"`
	Reason         types.ClosureReason `json:"reason"`
	EntryPrice     decimal.Decimal     `json:"entry_price"`
	ExitPrice      decimal.Decimal     `json:"exit_price"`
	QuantityClosed decimal.Decimal     `json:"quantity_closed"`
	RealizedPnL    decimal.Decimal     `json:"realized_pnl"`
	PnLPercentage  decimal.Decimal     `json:"pnl_percentage"`
	Commission     decimal.Decimal     `json:"commission"`
	SlippagePct    decimal.Decimal     `json:"slippage"`
	CreatedAt      time.Time           `json:"created_at"`
}

// MarginCallEvent tracks one escalation episode for a user. At most one
// non-resolved event exists per user at any time.
type MarginCallEvent struct {
	ID                   string                 `json:"id"`
	UserID               string                 `json:"user_id"`
	Status               types.MarginCallStatus `json:"status"`
	Severity             types.MarginSeverity   `json:"severity"`
	MarginLevel          decimal.Decimal        `json:"margin_level"`
	AccountEquity        decimal.Decimal        `json:"account_equity"`
	MarginUsed           decimal.Decimal        `json:"margin_used"`
	TriggeredAt          time.Time              `json:"triggered_at"`
	GracePeriodExpiresAt *time.Time             `json:"grace_period_expires_at,omitempty"`
	EscalationCount      int                    `json:"escalation_count"`
	ResolvedAt           *time.Time             `json:"resolved_at,omitempty"`
	ResolutionType       *types.ResolutionType  `json:"resolution_type,omitempty"`
}

// AccountSnapshot is the ledger's view of a user at evaluation time. Margin
// level is derived, never stored.
type AccountSnapshot struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	HeldBalance   decimal.Decimal `json:"held_balance"`
	Equity        decimal.Decimal `json:"equity"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	KYCStatus     string          `json:"kyc_status"`
	AccountStatus string          `json:"account_status"`
	MaxLeverage   int             `json:"max_leverage"`
}

var hundred = decimal.NewFromInt(100)

// MarginLevel returns equity/margin_used as a percentage. The second return is
// false when the account has no leveraged exposure, which counts as safe.
func (a AccountSnapshot) MarginLevel() (decimal.Decimal, bool) {
	if !a.MarginUsed.GreaterThan(decimal.Zero) {
		return decimal.Zero, false
	}
	return a.Equity.Div(a.MarginUsed).Mul(hundred), true
}

func (a AccountSnapshot) FreeMargin() decimal.Decimal {
	return a.Equity.Sub(a.MarginUsed)
}

type Instrument struct {
	Symbol         string          `json:"symbol"`
	DisplayName    string          `json:"display_name"`
	Tradable       bool            `json:"tradable"`
	MinQuantity    decimal.Decimal `json:"min_quantity"`
	MaxQuantity    decimal.Decimal `json:"max_quantity"`
	MaxLeverage    int             `json:"max_leverage"`
	PricePrecision int32           `json:"price_precision"`
	// Trading window in minutes of day, timezone-naive, open < close.
	// Both nil means the instrument trades around the clock.
	OpenMinute  *int `json:"open_minute,omitempty"`
	CloseMinute *int `json:"close_minute,omitempty"`
}

// WithinTradingHours checks the same-day open/close window against wall-clock.
func (i Instrument) WithinTradingHours(now time.Time) bool {
	if i.OpenMinute == nil || i.CloseMinute == nil {
		return true
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= *i.OpenMinute && minute < *i.CloseMinute
}

type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Kind      types.NotificationKind `json:"kind"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]any         `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
