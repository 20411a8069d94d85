package orders

import (
	"regexp"
	"time"

	"lv-cfd/internal/apperr"
	"lv-cfd/internal/model"
	"lv-cfd/internal/types"

	"github.com/shopspring/decimal"
)

var (
	symbolPattern = regexp.MustCompile(`^[A-Z0-9_]{1,20}$`)
	maxQuantity   = decimal.NewFromInt(1_000_000)
)

// Request is the inbound order submission, prior to any validation.
type Request struct {
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"order_type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	StopLoss       *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit     *decimal.Decimal `json:"take_profit,omitempty"`
	Leverage       int              `json:"leverage,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
}

func validSide(s string) bool {
	return s == string(types.OrderSideBuy) || s == string(types.OrderSideSell)
}

func validType(t string) bool {
	switch types.OrderType(t) {
	case types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeStop, types.OrderTypeStopLimit:
		return true
	}
	return false
}

func positiveIfSet(v *decimal.Decimal) bool {
	return v == nil || v.GreaterThan(decimal.Zero)
}

// ValidateSchema is the first rule: shape and ranges of the raw request,
// before any store lookup.
func ValidateSchema(req Request) error {
	if !symbolPattern.MatchString(req.Symbol) {
		return apperr.Validation("symbol_invalid", "symbol must match [A-Z0-9_]{1,20}")
	}
	if !validType(req.Type) {
		return apperr.Validation("order_type_invalid", "order_type must be one of market, limit, stop, stop_limit")
	}
	if !validSide(req.Side) {
		return apperr.Validation("side_invalid", "side must be buy or sell")
	}
	if !req.Quantity.GreaterThan(decimal.Zero) || req.Quantity.GreaterThan(maxQuantity) {
		return apperr.Validation("quantity_invalid", "quantity must be positive and at most 1000000")
	}
	if !positiveIfSet(req.Price) || !positiveIfSet(req.StopPrice) || !positiveIfSet(req.StopLoss) || !positiveIfSet(req.TakeProfit) {
		return apperr.Validation("price_invalid", "price fields must be positive when present")
	}
	if req.IdempotencyKey == "" {
		return apperr.Validation("idempotency_key_missing", "idempotency_key is required")
	}
	switch types.OrderType(req.Type) {
	case types.OrderTypeLimit:
		if req.Price == nil {
			return apperr.Validation("price_required", "limit orders require a price")
		}
	case types.OrderTypeStop:
		if req.StopPrice == nil {
			return apperr.Validation("stop_price_required", "stop orders require a stop price")
		}
	case types.OrderTypeStopLimit:
		if req.Price == nil || req.StopPrice == nil {
			return apperr.Validation("price_required", "stop_limit orders require both price and stop price")
		}
	}
	return nil
}

// Validate runs the remaining rules in order, each short-circuiting, and
// returns the normalized order. The instrument lookup itself covers the
// existence rule; callers pass the resolved spec.
func Validate(req Request, inst model.Instrument, snap model.AccountSnapshot, now time.Time) (model.Order, error) {
	if !inst.Tradable {
		return model.Order{}, apperr.Validation("instrument_not_tradable", "instrument is not tradable: "+inst.Symbol)
	}
	if req.Quantity.LessThan(inst.MinQuantity) || req.Quantity.GreaterThan(inst.MaxQuantity) {
		return model.Order{}, apperr.Validation("quantity_out_of_range",
			"quantity must be between "+inst.MinQuantity.String()+" and "+inst.MaxQuantity.String())
	}
	if snap.AccountStatus != "active" {
		return model.Order{}, apperr.Authorization("account_inactive", "account is not active")
	}
	if snap.KYCStatus != "approved" {
		return model.Order{}, apperr.Authorization("kyc_not_approved", "identity verification is not complete")
	}
	if !inst.WithinTradingHours(now) {
		return model.Order{}, apperr.Validation("market_closed", "instrument is outside its trading window")
	}

	leverage := req.Leverage
	if leverage == 0 {
		leverage = snap.MaxLeverage
	}
	if leverage < 1 || leverage > snap.MaxLeverage || leverage > inst.MaxLeverage {
		return model.Order{}, apperr.Validation("leverage_exceeded", "requested leverage exceeds the allowed maximum")
	}

	return model.Order{
		Symbol:         inst.Symbol,
		Side:           types.OrderSide(req.Side),
		Type:           types.OrderType(req.Type),
		Status:         types.OrderStatusPending,
		Quantity:       req.Quantity,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		Leverage:       leverage,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

func positionSide(side types.OrderSide) types.PositionSide {
	if side == types.OrderSideBuy {
		return types.PositionSideLong
	}
	return types.PositionSideShort
}

// requiredMargin is notional divided by leverage.
func requiredMargin(quantity, price decimal.Decimal, leverage int) decimal.Decimal {
	return quantity.Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}
