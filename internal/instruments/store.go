package instruments

import (
	"context"
	"errors"
	"strings"

	"lv-cfd/internal/apperr"
	"lv-cfd/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetBySymbol(ctx context.Context, symbol string) (model.Instrument, error) {
	var inst model.Instrument
	err := s.pool.QueryRow(ctx, `
		SELECT symbol, display_name, tradable, min_qty, max_qty, max_leverage, price_precision, open_minute, close_minute
		FROM instruments
		WHERE symbol = $1
	`, strings.ToUpper(strings.TrimSpace(symbol))).Scan(
		&inst.Symbol, &inst.DisplayName, &inst.Tradable, &inst.MinQuantity, &inst.MaxQuantity,
		&inst.MaxLeverage, &inst.PricePrecision, &inst.OpenMinute, &inst.CloseMinute,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inst, apperr.Validation("instrument_unknown", "unknown instrument: "+symbol)
		}
		return inst, err
	}
	return inst, nil
}

func (s *Store) List(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, display_name, tradable, min_qty, max_qty, max_leverage, price_precision, open_minute, close_minute
		FROM instruments
		ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		if err := rows.Scan(
			&inst.Symbol, &inst.DisplayName, &inst.Tradable, &inst.MinQuantity, &inst.MaxQuantity,
			&inst.MaxLeverage, &inst.PricePrecision, &inst.OpenMinute, &inst.CloseMinute,
		); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
