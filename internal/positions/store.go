package positions

import (
	"context"
	"errors"
	"time"

	"lv-cfd/internal/apperr"
	"lv-cfd/internal/model"
	"lv-cfd/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const positionColumns = "id, user_id, symbol, side, quantity, entry_price, status, leverage, margin_used, stop_loss, take_profit, created_at, updated_at"

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side, status string
	err := row.Scan(
		&p.ID, &p.UserID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &status,
		&p.Leverage, &p.MarginUsed, &p.StopLoss, &p.TakeProfit, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Side = types.PositionSide(side)
	p.Status = types.PositionStatus(status)
	return p, nil
}

// GetOpenForUpdate locks the position row for the closure transition. A
// missing, foreign, or already-closed position is indistinguishable to the
// caller: not found.
func (s *Store) GetOpenForUpdate(ctx context.Context, tx pgx.Tx, positionID, userID string) (model.Position, error) {
	p, err := scanPosition(tx.QueryRow(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE id = $1 AND user_id = $2 AND status IN ('open', 'partially_closed')
		FOR UPDATE
	`, positionID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, apperr.NotFound("position_not_found", "position not found or already closed")
		}
		return p, err
	}
	return p, nil
}

func (s *Store) Create(ctx context.Context, tx pgx.Tx, p model.Position) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO positions (user_id, symbol, side, quantity, entry_price, status, leverage, margin_used, stop_loss, take_profit, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, p.UserID, p.Symbol, string(p.Side), p.Quantity, p.EntryPrice, string(p.Status),
		p.Leverage, p.MarginUsed, p.StopLoss, p.TakeProfit, time.Now().UTC(), time.Now().UTC()).Scan(&id)
	return id, err
}

// ApplyClosure performs the position half of the atomic transition: decrement
// quantity and margin, or mark fully closed.
func (s *Store) ApplyClosure(ctx context.Context, tx pgx.Tx, positionID string, remaining, marginRemaining decimal.Decimal, status types.PositionStatus) error {
	_, err := tx.Exec(ctx, `
		UPDATE positions SET quantity = $1, margin_used = $2, status = $3, updated_at = $4 WHERE id = $5
	`, remaining, marginRemaining, string(status), time.Now().UTC(), positionID)
	return err
}

// ApplyLedgerDelta performs the account half: release held margin and settle
// the realized P&L against the balance.
func (s *Store) ApplyLedgerDelta(ctx context.Context, tx pgx.Tx, userID string, marginRelease, netPnL decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE trading_accounts
		SET balance = balance + $1,
		    held_balance = held_balance - $2,
		    margin_used = margin_used - $2,
		    updated_at = $3
		WHERE user_id = $4
	`, netPnL, marginRelease, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return apperr.Internal("ledger update touched no account", nil)
	}
	return nil
}

// HoldMargin reserves margin when a position opens, guarded so the held
// amount can never exceed the balance.
func (s *Store) HoldMargin(ctx context.Context, tx pgx.Tx, userID string, margin decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE trading_accounts
		SET held_balance = held_balance + $1,
		    margin_used = margin_used + $1,
		    updated_at = $2
		WHERE user_id = $3 AND balance - held_balance >= $1
	`, margin, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return apperr.Validation("insufficient_margin", "insufficient free balance to hold margin")
	}
	return nil
}

func (s *Store) InsertClosure(ctx context.Context, tx pgx.Tx, c model.PositionClosure) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO position_closures (position_id, user_id, reason, entry_price, exit_price, quantity_closed, realized_pnl, pnl_percentage, commission, slippage_pct, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, c.PositionID, c.UserID, string(c.Reason), c.EntryPrice, c.ExitPrice, c.QuantityClosed,
		c.RealizedPnL, c.PnLPercentage, c.Commission, c.SlippagePct, time.Now().UTC()).Scan(&id)
	return id, err
}

func (s *Store) ListOpenByUser(ctx context.Context, pool *pgxpool.Pool, userID string) ([]model.Position, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE user_id = $1 AND status IN ('open', 'partially_closed')
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListExitCandidates returns open positions carrying a protective stop-loss or
// take-profit level, for the scheduled trigger pass.
func (s *Store) ListExitCandidates(ctx context.Context, pool *pgxpool.Pool) ([]model.Position, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE status IN ('open', 'partially_closed')
		  AND (stop_loss IS NOT NULL OR take_profit IS NOT NULL)
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListClosuresByUser(ctx context.Context, pool *pgxpool.Pool, userID string, limit int) ([]model.PositionClosure, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := pool.Query(ctx, `
		SELECT id, position_id, user_id, reason, entry_price, exit_price, quantity_closed, realized_pnl, pnl_percentage, commission, slippage_pct, created_at
		FROM position_closures
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PositionClosure
	for rows.Next() {
		var c model.PositionClosure
		var reason string
		if err := rows.Scan(
			&c.ID, &c.PositionID, &c.UserID, &reason, &c.EntryPrice, &c.ExitPrice, &c.QuantityClosed,
			&c.RealizedPnL, &c.PnLPercentage, &c.Commission, &c.SlippagePct, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		c.Reason = types.ClosureReason(reason)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertDailyPnL maintains the per-day realized P&L aggregate.
func (s *Store) UpsertDailyPnL(ctx context.Context, pool *pgxpool.Pool, userID string, day time.Time, realized decimal.Decimal) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO daily_pnl (user_id, day, realized_pnl)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, day) DO UPDATE SET realized_pnl = daily_pnl.realized_pnl + EXCLUDED.realized_pnl
	`, userID, day.UTC().Truncate(24*time.Hour), realized)
	return err
}
