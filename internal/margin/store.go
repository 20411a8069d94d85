package margin

import (
	"context"
	"errors"
	"time"

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

// Lock serializes margin evaluation per user for the lifetime of the
// transaction, so concurrent sweeps and internal triggers cannot race on the
// same account.
func (s *Store) Lock(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return err
}

const eventColumns = "id, user_id, status, severity, margin_level, account_equity, margin_used, triggered_at, grace_period_expires_at, escalation_count, resolved_at, resolution_type"

// activeStatuses is the status set an unresolved margin call can hold; queries
// enforcing the single-active-event rule filter on it.
var activeStatuses = activeStatusSet()

func activeStatusSet() []string {
	all := []types.MarginCallStatus{
		types.MarginCallStatusPending,
		types.MarginCallStatusNotified,
		types.MarginCallStatusEscalated,
		types.MarginCallStatusResolved,
	}
	var out []string
	for _, st := range all {
		if st.Active() {
			out = append(out, string(st))
		}
	}
	return out
}

// ActiveEvent returns the user's single non-resolved event, locked for update,
// or nil when the user has none.
func (s *Store) ActiveEvent(ctx context.Context, tx pgx.Tx, userID string) (*model.MarginCallEvent, error) {
	var ev model.MarginCallEvent
	var status, severity string
	var resolution *string
	err := tx.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM margin_call_events
		WHERE user_id = $1 AND status = ANY($2)
		FOR UPDATE
	`, userID, activeStatuses).Scan(
		&ev.ID, &ev.UserID, &status, &severity, &ev.MarginLevel, &ev.AccountEquity, &ev.MarginUsed,
		&ev.TriggeredAt, &ev.GracePeriodExpiresAt, &ev.EscalationCount, &ev.ResolvedAt, &resolution,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ev.Status = types.MarginCallStatus(status)
	ev.Severity = types.MarginSeverity(severity)
	if resolution != nil {
		rt := types.ResolutionType(*resolution)
		ev.ResolutionType = &rt
	}
	return &ev, nil
}

func (s *Store) Create(ctx context.Context, tx pgx.Tx, ev model.MarginCallEvent) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO margin_call_events (user_id, status, severity, margin_level, account_equity, margin_used, triggered_at, grace_period_expires_at, escalation_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0)
		RETURNING id
	`, ev.UserID, string(types.MarginCallStatusNotified), string(ev.Severity), ev.MarginLevel,
		ev.AccountEquity, ev.MarginUsed, time.Now().UTC(), ev.GracePeriodExpiresAt).Scan(&id)
	return id, err
}

// UpdateSnapshot refreshes the recorded level and ledger figures on an active
// event without touching its severity or grace period.
func (s *Store) UpdateSnapshot(ctx context.Context, tx pgx.Tx, eventID string, level, equity, marginUsed decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE margin_call_events
		SET margin_level = $1, account_equity = $2, margin_used = $3
		WHERE id = $4
	`, level, equity, marginUsed, eventID)
	return err
}

// Escalate raises the event's severity and restarts or clears the grace period
// for the new severity.
func (s *Store) Escalate(ctx context.Context, tx pgx.Tx, eventID string, severity types.MarginSeverity, graceExpiresAt *time.Time, level, equity, marginUsed decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE margin_call_events
		SET status = $1, severity = $2, grace_period_expires_at = $3,
		    margin_level = $4, account_equity = $5, margin_used = $6,
		    escalation_count = escalation_count + 1
		WHERE id = $7
	`, string(types.MarginCallStatusEscalated), string(severity), graceExpiresAt, level, equity, marginUsed, eventID)
	return err
}

func (s *Store) Resolve(ctx context.Context, tx pgx.Tx, eventID string, resolution types.ResolutionType) error {
	_, err := tx.Exec(ctx, `
		UPDATE margin_call_events
		SET status = $1, resolved_at = $2, resolution_type = $3
		WHERE id = $4 AND status = ANY($5)
	`, string(types.MarginCallStatusResolved), time.Now().UTC(), string(resolution), eventID, activeStatuses)
	return err
}

// History lists a user's margin call events, newest first.
func (s *Store) History(ctx context.Context, pool *pgxpool.Pool, userID string, limit int) ([]model.MarginCallEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM margin_call_events
		WHERE user_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.MarginCallEvent
	for rows.Next() {
		var ev model.MarginCallEvent
		var status, severity string
		var resolution *string
		if err := rows.Scan(
			&ev.ID, &ev.UserID, &status, &severity, &ev.MarginLevel, &ev.AccountEquity, &ev.MarginUsed,
			&ev.TriggeredAt, &ev.GracePeriodExpiresAt, &ev.EscalationCount, &ev.ResolvedAt, &resolution,
		); err != nil {
			return nil, err
		}
		ev.Status = types.MarginCallStatus(status)
		ev.Severity = types.MarginSeverity(severity)
		if resolution != nil {
			rt := types.ResolutionType(*resolution)
			ev.ResolutionType = &rt
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
