package orders

import (
	"context"
	"errors"
	"time"

	"lv-cfd/internal/apperr"
	"lv-cfd/internal/model"
	"lv-cfd/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const orderColumns = "id, user_id, symbol, side, order_type, status, quantity, price, stop_price, stop_loss, take_profit, leverage, idempotency_key, position_id, created_at"

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var side, otype, status string
	err := row.Scan(
		&o.ID, &o.UserID, &o.Symbol, &side, &otype, &status, &o.Quantity, &o.Price, &o.StopPrice,
		&o.StopLoss, &o.TakeProfit, &o.Leverage, &o.IdempotencyKey, &o.PositionID, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Side = types.OrderSide(side)
	o.Type = types.OrderType(otype)
	o.Status = types.OrderStatus(status)
	return o, nil
}

func (s *Store) Insert(ctx context.Context, tx pgx.Tx, o model.Order) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, symbol, side, order_type, status, quantity, price, stop_price, stop_loss, take_profit, leverage, idempotency_key, position_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`, o.UserID, o.Symbol, string(o.Side), string(o.Type), string(o.Status), o.Quantity, o.Price,
		o.StopPrice, o.StopLoss, o.TakeProfit, o.Leverage, o.IdempotencyKey, o.PositionID, time.Now().UTC()).Scan(&id)
	return id, err
}

// GetPendingForUpdate locks a pending order for execution or cancellation.
func (s *Store) GetPendingForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (model.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND status = 'pending'
		FOR UPDATE
	`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, apperr.NotFound("order_not_found", "order not found or no longer pending")
		}
		return o, err
	}
	return o, nil
}

func (s *Store) MarkExecuted(ctx context.Context, tx pgx.Tx, orderID, positionID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'executed', position_id = $1 WHERE id = $2
	`, positionID, orderID)
	return err
}

func (s *Store) MarkCanceled(ctx context.Context, tx pgx.Tx, orderID, userID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'canceled' WHERE id = $1 AND user_id = $2 AND status = 'pending'
	`, orderID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return apperr.NotFound("order_not_found", "order not found or no longer pending")
	}
	return nil
}

func (s *Store) MarkRejected(ctx context.Context, tx pgx.Tx, orderID string) error {
	_, err := tx.Exec(ctx, `UPDATE orders SET status = 'rejected' WHERE id = $1`, orderID)
	return err
}

// ListPendingIDs returns every resting order, oldest first, for the trigger
// pass. Each order is then re-locked individually inside its own transaction.
func (s *Store) ListPendingIDs(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM orders WHERE status = 'pending' ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ListByUser(ctx context.Context, pool *pgxpool.Pool, userID string, status types.OrderStatus, limit int) ([]model.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
