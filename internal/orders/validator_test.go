package orders

import (
	"testing"
	"time"

	"lv-cfd/internal/apperr"
	"lv-cfd/internal/model"
	"lv-cfd/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func baseRequest() Request {
	return Request{
		Symbol:         "EUR_USD",
		Side:           "buy",
		Type:           "market",
		Quantity:       dec("1000"),
		Leverage:       10,
		IdempotencyKey: "key-1",
	}
}

func baseInstrument() model.Instrument {
	return model.Instrument{
		Symbol:      "EUR_USD",
		Tradable:    true,
		MinQuantity: dec("1"),
		MaxQuantity: dec("100000"),
		MaxLeverage: 100,
	}
}

func baseSnapshot() model.AccountSnapshot {
	return model.AccountSnapshot{
		UserID:        "u1",
		Balance:       dec("10000"),
		Equity:        dec("10000"),
		KYCStatus:     "approved",
		AccountStatus: "active",
		MaxLeverage:   50,
	}
}

func TestValidateSchema(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*Request)
		wantCode string
	}{
		{"valid", func(r *Request) {}, ""},
		{"lowercase symbol", func(r *Request) { r.Symbol = "eurusd" }, "symbol_invalid"},
		{"symbol too long", func(r *Request) { r.Symbol = "ABCDEFGHIJKLMNOPQRSTU" }, "symbol_invalid"},
		{"bad type", func(r *Request) { r.Type = "trailing" }, "order_type_invalid"},
		{"bad side", func(r *Request) { r.Side = "long" }, "side_invalid"},
		{"zero quantity", func(r *Request) { r.Quantity = decimal.Zero }, "quantity_invalid"},
		{"negative quantity", func(r *Request) { r.Quantity = dec("-5") }, "quantity_invalid"},
		{"quantity above cap", func(r *Request) { r.Quantity = dec("1000001") }, "quantity_invalid"},
		{"negative stop loss", func(r *Request) { r.StopLoss = decPtr("-1") }, "price_invalid"},
		{"missing idempotency key", func(r *Request) { r.IdempotencyKey = "" }, "idempotency_key_missing"},
		{"limit without price", func(r *Request) { r.Type = "limit" }, "price_required"},
		{"stop without stop price", func(r *Request) { r.Type = "stop" }, "stop_price_required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := baseRequest()
			tt.mutate(&req)
			err := ValidateSchema(req)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperr.CodeOf(err))
		})
	}
}

func TestValidateRuleOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		request  func(Request) Request
		inst     func(model.Instrument) model.Instrument
		snap     func(model.AccountSnapshot) model.AccountSnapshot
		wantCode string
		wantKind apperr.Kind
	}{
		{
			name:     "not tradable",
			inst:     func(i model.Instrument) model.Instrument { i.Tradable = false; return i },
			wantCode: "instrument_not_tradable",
			wantKind: apperr.KindValidation,
		},
		{
			name:     "below instrument minimum",
			request:  func(r Request) Request { r.Quantity = dec("0.5"); return r },
			wantCode: "quantity_out_of_range",
			wantKind: apperr.KindValidation,
		},
		{
			name:     "suspended account",
			snap:     func(s model.AccountSnapshot) model.AccountSnapshot { s.AccountStatus = "suspended"; return s },
			wantCode: "account_inactive",
			wantKind: apperr.KindAuthorization,
		},
		{
			name:     "kyc pending",
			snap:     func(s model.AccountSnapshot) model.AccountSnapshot { s.KYCStatus = "pending"; return s },
			wantCode: "kyc_not_approved",
			wantKind: apperr.KindAuthorization,
		},
		{
			// Tradability outranks quantity bounds: both are wrong here but
			// the earlier rule wins.
			name:     "rule order short-circuits",
			request:  func(r Request) Request { r.Quantity = dec("0.5"); return r },
			inst:     func(i model.Instrument) model.Instrument { i.Tradable = false; return i },
			wantCode: "instrument_not_tradable",
			wantKind: apperr.KindValidation,
		},
		{
			name:     "leverage above account max",
			request:  func(r Request) Request { r.Leverage = 60; return r },
			wantCode: "leverage_exceeded",
			wantKind: apperr.KindValidation,
		},
		{
			name: "leverage above instrument max",
			request: func(r Request) Request { r.Leverage = 30; return r },
			inst: func(i model.Instrument) model.Instrument { i.MaxLeverage = 20; return i },
			wantCode: "leverage_exceeded",
			wantKind: apperr.KindValidation,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := baseRequest()
			if tt.request != nil {
				req = tt.request(req)
			}
			inst := baseInstrument()
			if tt.inst != nil {
				inst = tt.inst(inst)
			}
			snap := baseSnapshot()
			if tt.snap != nil {
				snap = tt.snap(snap)
			}
			_, err := Validate(req, inst, snap, now)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperr.CodeOf(err))
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
		})
	}
}

func TestValidateMarketHours(t *testing.T) {
	t.Parallel()

	openMin, closeMin := 9*60, 17*60+30
	inst := baseInstrument()
	inst.OpenMinute = &openMin
	inst.CloseMinute = &closeMin

	inside := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	_, err := Validate(baseRequest(), inst, baseSnapshot(), inside)
	assert.NoError(t, err)

	before := time.Date(2026, 8, 31, 8, 59, 0, 0, time.UTC)
	_, err = Validate(baseRequest(), inst, baseSnapshot(), before)
	require.Error(t, err)
	assert.Equal(t, "market_closed", apperr.CodeOf(err))

	atClose := time.Date(2026, 8, 31, 17, 30, 0, 0, time.UTC)
	_, err = Validate(baseRequest(), inst, baseSnapshot(), atClose)
	require.Error(t, err)
	assert.Equal(t, "market_closed", apperr.CodeOf(err))
}

func TestValidateDefaultsLeverage(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.Leverage = 0
	order, err := Validate(req, baseInstrument(), baseSnapshot(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 50, order.Leverage, "zero leverage defaults to the account maximum")
}

func TestValidateNormalizes(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.StopLoss = decPtr("1.05")
	req.TakeProfit = decPtr("1.20")
	order, err := Validate(req, baseInstrument(), baseSnapshot(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, types.OrderSideBuy, order.Side)
	assert.Equal(t, types.OrderTypeMarket, order.Type)
	assert.Equal(t, types.OrderStatusPending, order.Status)
	assert.True(t, order.StopLoss.Equal(dec("1.05")))
	assert.True(t, order.TakeProfit.Equal(dec("1.20")))
}

func TestRequiredMargin(t *testing.T) {
	t.Parallel()

	// 1000 units at 1.10 with 10x leverage holds 110 margin.
	got := requiredMargin(dec("1000"), dec("1.10"), 10)
	assert.True(t, got.Equal(dec("110")), "margin %s", got)
}

func TestPositionSide(t *testing.T) {
	t.Parallel()

	assert.Equal(t, types.PositionSideLong, positionSide(types.OrderSideBuy))
	assert.Equal(t, types.PositionSideShort, positionSide(types.OrderSideSell))
}
