package positions

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"lv-cfd/internal/accounts"
	"lv-cfd/internal/apperr"
	"lv-cfd/internal/gate"
	"lv-cfd/internal/model"
	"lv-cfd/internal/pricing"
	"lv-cfd/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const closeScope = "position_close"

// Notifier delivers user notifications. Implementations must never block the
// caller; delivery failure never rolls back a closure.
type Notifier interface {
	Notify(userID string, kind types.NotificationKind, title, message string, data map[string]any)
}

// Engine closes positions: it computes exit price, P&L, and fees, then runs
// the position, ledger, and audit updates as one serializable transaction.
type Engine struct {
	pool     *pgxpool.Pool
	store    *Store
	oracle   pricing.Oracle
	accounts *accounts.Service
	idem     *gate.IdemStore
	notifier Notifier
	log      *logrus.Entry
}

func NewEngine(pool *pgxpool.Pool, store *Store, oracle pricing.Oracle, accountSvc *accounts.Service, idem *gate.IdemStore, notifier Notifier, log *logrus.Entry) *Engine {
	return &Engine{pool: pool, store: store, oracle: oracle, accounts: accountSvc, idem: idem, notifier: notifier, log: log}
}

type CloseRequest struct {
	PositionID     string
	UserID         string
	Quantity       *decimal.Decimal
	Reason         types.ClosureReason
	IdempotencyKey string
}

type ClosureResult struct {
	ClosureID         string          `json:"closure_id"`
	Status            string          `json:"status"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	ExitPrice         decimal.Decimal `json:"exit_price"`
	QuantityClosed    decimal.Decimal `json:"quantity_closed"`
	QuantityRemaining decimal.Decimal `json:"quantity_remaining"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	PnLPercentage     decimal.Decimal `json:"pnl_percentage"`
	Commission        decimal.Decimal `json:"commission"`
	Slippage          decimal.Decimal `json:"slippage"`
}

func (e *Engine) Close(ctx context.Context, req CloseRequest) (ClosureResult, error) {
	if req.Reason == "" {
		req.Reason = types.ClosureReasonManualUser
	}
	if req.Quantity != nil && !req.Quantity.GreaterThan(decimal.Zero) {
		return ClosureResult{}, apperr.Validation("close_quantity_invalid", "close quantity must be positive")
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return ClosureResult{}, apperr.Unavailable("ledger_unavailable", "ledger unavailable", err)
	}
	defer tx.Rollback(ctx)

	if req.IdempotencyKey != "" {
		if err := e.idem.Begin(ctx, tx, closeScope, req.IdempotencyKey, req.UserID); err != nil {
			if gate.IsDuplicate(err) {
				_ = tx.Rollback(ctx)
				return e.replay(ctx, req.IdempotencyKey)
			}
			return ClosureResult{}, apperr.Unavailable("ledger_unavailable", "ledger unavailable", err)
		}
	}

	pos, err := e.store.GetOpenForUpdate(ctx, tx, req.PositionID, req.UserID)
	if err != nil {
		return ClosureResult{}, err
	}

	alloc := AllocateClose(pos.Quantity, pos.MarginUsed, req.Quantity)

	// No stale execution: the quote must come from the oracle right now.
	quote, err := e.oracle.Quote(ctx, pos.Symbol)
	if err != nil {
		return ClosureResult{}, err
	}

	b := ComputeClosure(pos.Side, pos.EntryPrice, quote.Price, alloc.CloseQty, req.Reason)

	status := types.PositionStatusClosed
	if alloc.Partial {
		status = types.PositionStatusPartiallyClosed
	}

	if err := e.store.ApplyClosure(ctx, tx, pos.ID, alloc.Remaining, alloc.MarginRemaining, status); err != nil {
		return ClosureResult{}, apperr.Internal("position close failed", err)
	}
	if err := e.store.ApplyLedgerDelta(ctx, tx, req.UserID, alloc.MarginRelease, b.NetPnL); err != nil {
		return ClosureResult{}, apperr.Internal("position close failed", err)
	}
	closureID, err := e.store.InsertClosure(ctx, tx, model.PositionClosure{
		PositionID:     pos.ID,
		UserID:         req.UserID,
		Reason:         req.Reason,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      b.ExitPrice,
		QuantityClosed: alloc.CloseQty,
		RealizedPnL:    b.NetPnL,
		PnLPercentage:  b.PnLPercentage,
		Commission:     b.Commission,
		SlippagePct:    b.SlippagePct,
	})
	if err != nil {
		return ClosureResult{}, apperr.Internal("position close failed", err)
	}

	result := ClosureResult{
		ClosureID:         closureID,
		Status:            "completed",
		EntryPrice:        pos.EntryPrice,
		ExitPrice:         b.ExitPrice,
		QuantityClosed:    alloc.CloseQty,
		QuantityRemaining: alloc.Remaining,
		RealizedPnL:       b.NetPnL,
		PnLPercentage:     b.PnLPercentage,
		Commission:        b.Commission,
		Slippage:          b.SlippagePct,
	}
	if alloc.Partial {
		result.Status = "partial"
	}

	if req.IdempotencyKey != "" {
		if err := e.idem.SaveResponse(ctx, tx, closeScope, req.IdempotencyKey, result); err != nil {
			return ClosureResult{}, apperr.Internal("position close failed", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		// The quote was already obtained; retrying blindly could re-apply
		// slippage at a new price. Surface for reconciliation instead.
		return ClosureResult{}, apperr.Internal("position close failed", err)
	}

	e.afterClose(pos, req.Reason, result)
	return result, nil
}

// replay returns the stored outcome for an idempotency key that was already
// processed, so every duplicate submission observes the first result.
func (e *Engine) replay(ctx context.Context, key string) (ClosureResult, error) {
	raw, err := e.idem.Lookup(ctx, e.pool, closeScope, key)
	if err != nil {
		return ClosureResult{}, err
	}
	var result ClosureResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ClosureResult{}, apperr.Internal("stored idempotent response malformed", err)
	}
	return result, nil
}

func (e *Engine) afterClose(pos model.Position, reason types.ClosureReason, result ClosureResult) {
	e.notifier.Notify(pos.UserID, types.NotificationPositionClosed,
		"Position closed",
		"Closed "+result.QuantityClosed.String()+" "+pos.Symbol+" at "+result.ExitPrice.String()+", realized P&L "+result.RealizedPnL.String(),
		map[string]any{
			"position_id":  pos.ID,
			"closure_id":   result.ClosureID,
			"reason":       string(reason),
			"realized_pnl": result.RealizedPnL.String(),
		})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		if err := e.store.UpsertDailyPnL(ctx, e.pool, pos.UserID, time.Now().UTC(), result.RealizedPnL); err != nil {
			e.log.WithError(err).WithField("user_id", pos.UserID).Warn("daily pnl aggregate update failed")
		}
	}()
}

// Liquidate force-closes the user's open positions worst loser first until the
// margin level recovers above restoreLevel or no position remains. Returns how
// many positions were closed.
func (e *Engine) Liquidate(ctx context.Context, userID string, restoreLevel decimal.Decimal) (int, error) {
	open, err := e.store.ListOpenByUser(ctx, e.pool, userID)
	if err != nil {
		return 0, err
	}

	type candidate struct {
		pos model.Position
		pnl decimal.Decimal
	}
	candidates := make([]candidate, 0, len(open))
	for _, p := range open {
		quote, err := e.oracle.Quote(ctx, p.Symbol)
		if err != nil {
			// Without a price the position cannot be closed; skip it and let
			// the next sweep retry.
			e.log.WithError(err).WithField("symbol", p.Symbol).Warn("liquidation skipped position without quote")
			continue
		}
		candidates = append(candidates, candidate{pos: p, pnl: grossPnL(p.Side, p.EntryPrice, quote.Price, p.Quantity)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].pnl.LessThan(candidates[j].pnl)
	})

	closed := 0
	for _, c := range candidates {
		if _, err := e.Close(ctx, CloseRequest{
			PositionID: c.pos.ID,
			UserID:     userID,
			Reason:     types.ClosureReasonLiquidation,
		}); err != nil {
			e.log.WithError(err).WithField("position_id", c.pos.ID).Warn("forced close failed")
			continue
		}
		closed++

		snap, err := e.accounts.Snapshot(ctx, userID)
		if err != nil {
			continue
		}
		level, leveraged := snap.MarginLevel()
		if !leveraged || level.GreaterThanOrEqual(restoreLevel) {
			break
		}
	}
	return closed, nil
}
