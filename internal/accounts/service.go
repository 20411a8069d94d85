package accounts

import (
	"context"
	"errors"

	"lv-cfd/internal/apperr"
	"lv-cfd/internal/model"
	"lv-cfd/internal/pricing"
	"lv-cfd/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Service reads account snapshots from the ledger. Equity is derived on read
// as balance plus floating P&L over open positions, marked with quotes from
// the shared cache (read-through to the oracle on miss).
type Service struct {
	pool   *pgxpool.Pool
	oracle pricing.Oracle
	cache  *pricing.Cache
}

func NewService(pool *pgxpool.Pool, oracle pricing.Oracle, cache *pricing.Cache) *Service {
	return &Service{pool: pool, oracle: oracle, cache: cache}
}

func (s *Service) Snapshot(ctx context.Context, userID string) (model.AccountSnapshot, error) {
	var snap model.AccountSnapshot
	snap.UserID = userID
	err := s.pool.QueryRow(ctx, `
		SELECT ta.balance, ta.held_balance, ta.margin_used, ta.max_leverage, u.kyc_status, u.account_status
		FROM trading_accounts ta
		JOIN users u ON u.id = ta.user_id
		WHERE ta.user_id = $1
	`, userID).Scan(&snap.Balance, &snap.HeldBalance, &snap.MarginUsed, &snap.MaxLeverage, &snap.KYCStatus, &snap.AccountStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snap, apperr.NotFound("account_not_found", "trading account not found")
		}
		return snap, err
	}

	floating, err := s.floatingPnL(ctx, userID)
	if err != nil {
		return snap, err
	}
	snap.Equity = snap.Balance.Add(floating)
	return snap, nil
}

// floatingPnL marks every open position. A position whose symbol has no
// obtainable quote contributes zero rather than failing the whole snapshot;
// monitoring degrades gracefully, executions never go through this path.
func (s *Service) floatingPnL(ctx context.Context, userID string) (decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, side, quantity, entry_price
		FROM positions
		WHERE user_id = $1 AND status IN ('open', 'partially_closed')
	`, userID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var symbol string
		var side types.PositionSide
		var qty, entry decimal.Decimal
		if err := rows.Scan(&symbol, &side, &qty, &entry); err != nil {
			return decimal.Zero, err
		}
		mark, ok := s.mark(ctx, symbol)
		if !ok {
			continue
		}
		if side == types.PositionSideLong {
			total = total.Add(mark.Sub(entry).Mul(qty))
		} else {
			total = total.Add(entry.Sub(mark).Mul(qty))
		}
	}
	return total, rows.Err()
}

func (s *Service) mark(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if q, ok := s.cache.Get(symbol); ok {
		return q.Price, true
	}
	q, err := s.oracle.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, false
	}
	s.cache.Set(q)
	return q.Price, true
}

// ListLeveragedUserIDs returns every user the margin monitor must evaluate.
func (s *Service) ListLeveragedUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM trading_accounts WHERE margin_used > 0 ORDER BY user_id
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
