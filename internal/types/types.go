package types

type OrderSide string

type OrderType string

type OrderStatus string

type PositionSide string

type PositionStatus string

type ClosureReason string

type MarginSeverity string

type MarginCallStatus string

type ResolutionType string

type NotificationKind string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusExecuted OrderStatus = "executed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

const (
	PositionStatusOpen            PositionStatus = "open"
	PositionStatusPartiallyClosed PositionStatus = "partially_closed"
	PositionStatusClosed          PositionStatus = "closed"
)

const (
	ClosureReasonTakeProfit   ClosureReason = "take_profit"
	ClosureReasonStopLoss     ClosureReason = "stop_loss"
	ClosureReasonTrailingStop ClosureReason = "trailing_stop"
	ClosureReasonTimeExpiry   ClosureReason = "time_expiry"
	ClosureReasonManualUser   ClosureReason = "manual_user"
	ClosureReasonMarginCall   ClosureReason = "margin_call"
	ClosureReasonLiquidation  ClosureReason = "liquidation"
	ClosureReasonAdminForced  ClosureReason = "admin_forced"
)

const (
	MarginSeveritySafe               MarginSeverity = "SAFE"
	MarginSeverityWarning            MarginSeverity = "WARNING"
	MarginSeverityCritical           MarginSeverity = "CRITICAL"
	MarginSeverityLiquidationTrigger MarginSeverity = "LIQUIDATION_TRIGGER"
)

const (
	MarginCallStatusPending   MarginCallStatus = "pending"
	MarginCallStatusNotified  MarginCallStatus = "notified"
	MarginCallStatusEscalated MarginCallStatus = "escalated"
	MarginCallStatusResolved  MarginCallStatus = "resolved"
)

const (
	ResolutionPriceRecovery        ResolutionType = "price_recovery"
	ResolutionLiquidationCompleted ResolutionType = "liquidation_completed"
)

const (
	NotificationOrderExecuted    NotificationKind = "order_executed"
	NotificationPositionClosed   NotificationKind = "position_closed"
	NotificationMarginWarning    NotificationKind = "margin_warning"
	NotificationMarginCritical   NotificationKind = "margin_critical"
	NotificationMarginLiquidated NotificationKind = "margin_liquidation"
	NotificationMarginRecovered  NotificationKind = "margin_recovered"
)

// Rank orders severities so the monotonic-escalation rule can compare them.
// SAFE sits below every tracked severity.
func (s MarginSeverity) Rank() int {
	switch s {
	case MarginSeverityWarning:
		return 1
	case MarginSeverityCritical:
		return 2
	case MarginSeverityLiquidationTrigger:
		return 3
	default:
		return 0
	}
}

func (s MarginCallStatus) Active() bool {
	switch s {
	case MarginCallStatusPending, MarginCallStatusNotified, MarginCallStatusEscalated:
		return true
	default:
		return false
	}
}

// ForcedClosure reports whether the reason represents a broker-forced close,
// which receives a worse fill than a user-initiated one.
func (r ClosureReason) ForcedClosure() bool {
	return r == ClosureReasonMarginCall || r == ClosureReasonLiquidation
}
