package orders

import (
	"context"
	"encoding/json"
	"time"

	"lv-cfd/internal/accounts"
	"lv-cfd/internal/apperr"
	"lv-cfd/internal/gate"
	"lv-cfd/internal/instruments"
	"lv-cfd/internal/model"
	"lv-cfd/internal/positions"
	"lv-cfd/internal/pricing"
	"lv-cfd/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const orderScope = "order_execute"

// Notifier delivers user notifications without blocking order execution.
type Notifier interface {
	Notify(userID string, kind types.NotificationKind, title, message string, data map[string]any)
}

// Service validates and executes orders. Market orders open a position
// immediately at the live quote; resting orders wait for the trigger pass.
type Service struct {
	pool        *pgxpool.Pool
	store       *Store
	positions   *positions.Store
	engine      *positions.Engine
	instruments *instruments.Store
	accounts    *accounts.Service
	oracle      pricing.Oracle
	idem        *gate.IdemStore
	notifier    Notifier
	log         *logrus.Entry
	now         func() time.Time
}

func NewService(pool *pgxpool.Pool, store *Store, posStore *positions.Store, engine *positions.Engine, instStore *instruments.Store, accountSvc *accounts.Service, oracle pricing.Oracle, idem *gate.IdemStore, notifier Notifier, log *logrus.Entry) *Service {
	return &Service{
		pool:        pool,
		store:       store,
		positions:   posStore,
		engine:      engine,
		instruments: instStore,
		accounts:    accountSvc,
		oracle:      oracle,
		idem:        idem,
		notifier:    notifier,
		log:         log,
		now:         time.Now,
	}
}

type Result struct {
	OrderID  string            `json:"order_id"`
	Status   types.OrderStatus `json:"status"`
	Position *model.Position   `json:"position,omitempty"`
}

// Place runs the validation chain and, for market orders, executes into a
// position within one serializable transaction guarded by the idempotency key.
func (s *Service) Place(ctx context.Context, userID string, req Request) (Result, error) {
	if err := ValidateSchema(req); err != nil {
		return Result{}, err
	}
	inst, err := s.instruments.GetBySymbol(ctx, req.Symbol)
	if err != nil {
		return Result{}, err
	}
	snap, err := s.accounts.Snapshot(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	order, err := Validate(req, inst, snap, s.now().UTC())
	if err != nil {
		return Result{}, err
	}
	order.UserID = userID

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return Result{}, apperr.Unavailable("ledger_unavailable", "ledger unavailable", err)
	}
	defer tx.Rollback(ctx)

	if err := s.idem.Begin(ctx, tx, orderScope, order.IdempotencyKey, userID); err != nil {
		if gate.IsDuplicate(err) {
			_ = tx.Rollback(ctx)
			return s.replay(ctx, order.IdempotencyKey)
		}
		return Result{}, apperr.Unavailable("ledger_unavailable", "ledger unavailable", err)
	}

	var result Result
	if order.Type == types.OrderTypeMarket {
		result, err = s.executeInTx(ctx, tx, order)
	} else {
		var orderID string
		orderID, err = s.store.Insert(ctx, tx, order)
		result = Result{OrderID: orderID, Status: types.OrderStatusPending}
	}
	if err != nil {
		return Result{}, err
	}

	if err := s.idem.SaveResponse(ctx, tx, orderScope, order.IdempotencyKey, result); err != nil {
		return Result{}, apperr.Internal("order persist failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, apperr.Internal("order persist failed", err)
	}

	if result.Status == types.OrderStatusExecuted && result.Position != nil {
		s.notifier.Notify(userID, types.NotificationOrderExecuted,
			"Order executed",
			"Opened "+result.Position.Quantity.String()+" "+result.Position.Symbol+" "+string(result.Position.Side)+" at "+result.Position.EntryPrice.String(),
			map[string]any{"order_id": result.OrderID, "position_id": result.Position.ID})
	}
	return result, nil
}

// executeInTx opens the position for an order at the live quote: hold margin,
// create the position, record the executed order.
func (s *Service) executeInTx(ctx context.Context, tx pgx.Tx, order model.Order) (Result, error) {
	quote, err := s.oracle.Quote(ctx, order.Symbol)
	if err != nil {
		return Result{}, err
	}

	margin := requiredMargin(order.Quantity, quote.Price, order.Leverage)
	if err := s.positions.HoldMargin(ctx, tx, order.UserID, margin); err != nil {
		return Result{}, err
	}

	pos := model.Position{
		UserID:     order.UserID,
		Symbol:     order.Symbol,
		Side:       positionSide(order.Side),
		Quantity:   order.Quantity,
		EntryPrice: quote.Price,
		Status:     types.PositionStatusOpen,
		Leverage:   order.Leverage,
		MarginUsed: margin,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
	}
	posID, err := s.positions.Create(ctx, tx, pos)
	if err != nil {
		return Result{}, apperr.Internal("order persist failed", err)
	}
	pos.ID = posID

	order.Status = types.OrderStatusExecuted
	order.PositionID = &posID
	orderID, err := s.store.Insert(ctx, tx, order)
	if err != nil {
		return Result{}, apperr.Internal("order persist failed", err)
	}

	return Result{OrderID: orderID, Status: types.OrderStatusExecuted, Position: &pos}, nil
}

func (s *Service) replay(ctx context.Context, key string) (Result, error) {
	raw, err := s.idem.Lookup(ctx, s.pool, orderScope, key)
	if err != nil {
		return Result{}, err
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, apperr.Internal("stored idempotent response malformed", err)
	}
	return result, nil
}

func (s *Service) Cancel(ctx context.Context, userID, orderID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Unavailable("ledger_unavailable", "ledger unavailable", err)
	}
	defer tx.Rollback(ctx)
	if err := s.store.MarkCanceled(ctx, tx, orderID, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) ListByUser(ctx context.Context, userID string, status types.OrderStatus, limit int) ([]model.Order, error) {
	return s.store.ListByUser(ctx, s.pool, userID, status, limit)
}

// marketable reports whether a resting order should execute at the given
// quote. Stop-limit orders require both legs to hold.
func marketable(o model.Order, quote decimal.Decimal) bool {
	limitOK := func() bool {
		if o.Side == types.OrderSideBuy {
			return quote.LessThanOrEqual(*o.Price)
		}
		return quote.GreaterThanOrEqual(*o.Price)
	}
	stopOK := func() bool {
		if o.Side == types.OrderSideBuy {
			return quote.GreaterThanOrEqual(*o.StopPrice)
		}
		return quote.LessThanOrEqual(*o.StopPrice)
	}
	switch o.Type {
	case types.OrderTypeLimit:
		return limitOK()
	case types.OrderTypeStop:
		return stopOK()
	case types.OrderTypeStopLimit:
		return stopOK() && limitOK()
	default:
		return false
	}
}

type TriggerResult struct {
	OrdersChecked  int `json:"orders_checked"`
	OrdersExecuted int `json:"orders_executed"`
	OrdersRejected int `json:"orders_rejected"`
	ExitsClosed    int `json:"exits_closed"`
}

// Trigger is the scheduled pass over resting orders and protective exits. One
// order failing never aborts the rest.
func (s *Service) Trigger(ctx context.Context) (TriggerResult, error) {
	var result TriggerResult

	ids, err := s.store.ListPendingIDs(ctx, s.pool)
	if err != nil {
		return result, err
	}
	result.OrdersChecked = len(ids)
	for _, id := range ids {
		executed, rejected, err := s.triggerOne(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("order_id", id).Warn("pending order trigger failed")
			continue
		}
		if executed {
			result.OrdersExecuted++
		}
		if rejected {
			result.OrdersRejected++
		}
	}

	closed, err := s.triggerExits(ctx)
	if err != nil {
		s.log.WithError(err).Warn("protective exit pass failed")
	}
	result.ExitsClosed = closed
	return result, nil
}

func (s *Service) triggerOne(ctx context.Context, orderID string) (executed, rejected bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback(ctx)

	order, err := s.store.GetPendingForUpdate(ctx, tx, orderID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			// Raced with a cancel or an earlier trigger pass.
			return false, false, nil
		}
		return false, false, err
	}

	quote, err := s.oracle.Quote(ctx, order.Symbol)
	if err != nil {
		return false, false, err
	}
	if !marketable(order, quote.Price) {
		return false, false, nil
	}

	margin := requiredMargin(order.Quantity, quote.Price, order.Leverage)
	if err := s.positions.HoldMargin(ctx, tx, order.UserID, margin); err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			if err := s.store.MarkRejected(ctx, tx, order.ID); err != nil {
				return false, false, err
			}
			return false, true, tx.Commit(ctx)
		}
		return false, false, err
	}

	pos := model.Position{
		UserID:     order.UserID,
		Symbol:     order.Symbol,
		Side:       positionSide(order.Side),
		Quantity:   order.Quantity,
		EntryPrice: quote.Price,
		Status:     types.PositionStatusOpen,
		Leverage:   order.Leverage,
		MarginUsed: margin,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
	}
	posID, err := s.positions.Create(ctx, tx, pos)
	if err != nil {
		return false, false, err
	}
	if err := s.store.MarkExecuted(ctx, tx, order.ID, posID); err != nil {
		return false, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, false, err
	}

	s.notifier.Notify(order.UserID, types.NotificationOrderExecuted,
		"Order executed",
		"Opened "+order.Quantity.String()+" "+order.Symbol+" "+string(positionSide(order.Side))+" at "+quote.Price.String(),
		map[string]any{"order_id": order.ID, "position_id": posID})
	return true, false, nil
}

// triggerExits closes open positions whose stop-loss or take-profit level has
// been reached.
func (s *Service) triggerExits(ctx context.Context) (int, error) {
	candidates, err := s.positions.ListExitCandidates(ctx, s.pool)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, p := range candidates {
		quote, err := s.oracle.Quote(ctx, p.Symbol)
		if err != nil {
			continue
		}
		reason, hit := exitReason(p, quote.Price)
		if !hit {
			continue
		}
		if _, err := s.engine.Close(ctx, positions.CloseRequest{
			PositionID: p.ID,
			UserID:     p.UserID,
			Reason:     reason,
		}); err != nil {
			s.log.WithError(err).WithField("position_id", p.ID).Warn("protective exit close failed")
			continue
		}
		closed++
	}
	return closed, nil
}

// exitReason checks the protective levels of a position against the quote.
// Stop-loss wins when both are somehow breached at once.
func exitReason(p model.Position, quote decimal.Decimal) (types.ClosureReason, bool) {
	if p.Side == types.PositionSideLong {
		if p.StopLoss != nil && quote.LessThanOrEqual(*p.StopLoss) {
			return types.ClosureReasonStopLoss, true
		}
		if p.TakeProfit != nil && quote.GreaterThanOrEqual(*p.TakeProfit) {
			return types.ClosureReasonTakeProfit, true
		}
		return "", false
	}
	if p.StopLoss != nil && quote.GreaterThanOrEqual(*p.StopLoss) {
		return types.ClosureReasonStopLoss, true
	}
	if p.TakeProfit != nil && quote.LessThanOrEqual(*p.TakeProfit) {
		return types.ClosureReasonTakeProfit, true
	}
	return "", false
}
