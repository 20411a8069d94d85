package margin

import (
	"context"
	"sync"
	"time"

	"lv-cfd/internal/accounts"
	"lv-cfd/internal/model"
	"lv-cfd/internal/positions"
	"lv-cfd/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const sweepConcurrency = 8

// Notifier delivers margin notifications without blocking evaluation.
type Notifier interface {
	Notify(userID string, kind types.NotificationKind, title, message string, data map[string]any)
}

// Monitor evaluates margin levels and drives the escalation state machine.
// All decisions are taken by the pure transition function; the monitor's job
// is locking, persistence, and fan-out.
type Monitor struct {
	pool     *pgxpool.Pool
	store    *Store
	accounts *accounts.Service
	engine   *positions.Engine
	notifier Notifier
	grace    time.Duration
	log      *logrus.Entry
	now      func() time.Time
}

func NewMonitor(pool *pgxpool.Pool, store *Store, accountSvc *accounts.Service, engine *positions.Engine, notifier Notifier, grace time.Duration, log *logrus.Entry) *Monitor {
	return &Monitor{
		pool:     pool,
		store:    store,
		accounts: accountSvc,
		engine:   engine,
		notifier: notifier,
		grace:    grace,
		log:      log,
		now:      time.Now,
	}
}

type UserResult struct {
	UserID          string               `json:"user_id"`
	MarginLevel     decimal.Decimal      `json:"margin_level"`
	Severity        types.MarginSeverity `json:"severity"`
	Action          string               `json:"action"`
	PositionsClosed int                  `json:"positions_closed,omitempty"`
}

type SweepResult struct {
	UsersChecked          int          `json:"users_checked"`
	NewMarginCalls        int          `json:"new_margin_calls"`
	Escalations           int          `json:"escalations"`
	LiquidationsTriggered int          `json:"liquidations_triggered"`
	Resolved              int          `json:"resolved"`
	Results               []UserResult `json:"results"`
}

// Sweep evaluates every leveraged account. Users are independent, so they are
// checked concurrently; one user failing never aborts the rest.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	userIDs, err := m.accounts.ListLeveragedUserIDs(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var mu sync.Mutex
	result := SweepResult{UsersChecked: len(userIDs), Results: make([]UserResult, 0, len(userIDs))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			r, err := m.EvaluateUser(gctx, userID)
			if err != nil {
				m.log.WithError(err).WithField("user_id", userID).Warn("margin evaluation failed")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			result.Results = append(result.Results, r)
			switch r.Action {
			case string(actionCreate):
				result.NewMarginCalls++
			case string(actionEscalate):
				result.Escalations++
			case string(actionResolve):
				result.Resolved++
			}
			if r.PositionsClosed > 0 {
				result.LiquidationsTriggered++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// EvaluateUser runs one pass of the state machine for a single account:
// snapshot, assess, transition, persist, then notify and liquidate as the plan
// demands.
func (m *Monitor) EvaluateUser(ctx context.Context, userID string) (UserResult, error) {
	snap, err := m.accounts.Snapshot(ctx, userID)
	if err != nil {
		return UserResult{}, err
	}
	level, leveraged := snap.MarginLevel()
	severity := Assess(level, leveraged)
	now := m.now().UTC()

	res := UserResult{UserID: userID, MarginLevel: level, Severity: severity, Action: string(actionNone)}

	p, err := m.applyTransition(ctx, userID, snap, severity, level, now)
	if err != nil {
		return UserResult{}, err
	}
	res.Action = string(p.action)

	switch p.action {
	case actionCreate, actionEscalate:
		kind, title, msg := notificationContent(p.severity, level, p.graceExpiresAt, now)
		m.notifier.Notify(userID, kind, title, msg, map[string]any{
			"margin_level": level.Round(2).String(),
			"severity":     string(p.severity),
		})
	case actionResolve:
		kind, title, msg := notificationContent(types.MarginSeveritySafe, level, nil, now)
		m.notifier.Notify(userID, kind, title, msg, map[string]any{
			"margin_level": level.Round(2).String(),
		})
	}

	if p.liquidate {
		closed, err := m.engine.Liquidate(ctx, userID, criticalLevel)
		if err != nil {
			return res, err
		}
		res.PositionsClosed = closed
		if err := m.settleAfterLiquidation(ctx, userID); err != nil {
			m.log.WithError(err).WithField("user_id", userID).Warn("post-liquidation settlement failed")
		}
	}
	return res, nil
}

// applyTransition holds the user's advisory lock while reading the active
// event, deciding, and persisting the outcome.
func (m *Monitor) applyTransition(ctx context.Context, userID string, snap model.AccountSnapshot, severity types.MarginSeverity, level decimal.Decimal, now time.Time) (plan, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return plan{}, err
	}
	defer tx.Rollback(ctx)

	if err := m.store.Lock(ctx, tx, userID); err != nil {
		return plan{}, err
	}
	ev, err := m.store.ActiveEvent(ctx, tx, userID)
	if err != nil {
		return plan{}, err
	}

	p := transition(ev, severity, now, m.grace)

	switch p.action {
	case actionCreate:
		_, err = m.store.Create(ctx, tx, model.MarginCallEvent{
			UserID:               userID,
			Severity:             p.severity,
			MarginLevel:          level,
			AccountEquity:        snap.Equity,
			MarginUsed:           snap.MarginUsed,
			GracePeriodExpiresAt: p.graceExpiresAt,
		})
	case actionRefresh:
		err = m.store.UpdateSnapshot(ctx, tx, ev.ID, level, snap.Equity, snap.MarginUsed)
	case actionEscalate:
		err = m.store.Escalate(ctx, tx, ev.ID, p.severity, p.graceExpiresAt, level, snap.Equity, snap.MarginUsed)
	case actionResolve:
		err = m.store.Resolve(ctx, tx, ev.ID, types.ResolutionPriceRecovery)
	}
	if err != nil {
		return plan{}, err
	}
	return p, tx.Commit(ctx)
}

// settleAfterLiquidation resolves the event once forced closures brought the
// account back to safety. If the level is still in a danger band the event
// stays open for the next sweep.
func (m *Monitor) settleAfterLiquidation(ctx context.Context, userID string) error {
	snap, err := m.accounts.Snapshot(ctx, userID)
	if err != nil {
		return err
	}
	level, leveraged := snap.MarginLevel()
	if leveraged && level.LessThan(criticalLevel) {
		return nil
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := m.store.Lock(ctx, tx, userID); err != nil {
		return err
	}
	ev, err := m.store.ActiveEvent(ctx, tx, userID)
	if err != nil || ev == nil {
		return err
	}
	if err := m.store.Resolve(ctx, tx, ev.ID, types.ResolutionLiquidationCompleted); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
