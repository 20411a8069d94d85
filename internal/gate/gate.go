// Package gate sits in front of every mutating endpoint: a per-user,
// per-endpoint fixed-window rate limit and an idempotency record store whose
// uniqueness constraint makes retried requests observe the first result.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"lv-cfd/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DefaultLimit  = 5
	DefaultWindow = time.Minute
)

type window struct {
	startedAt time.Time
	count     int
}

type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window
	now     func() time.Time
}

func NewLimiter(limit int, windowSize time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	l := &Limiter{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
		now:     time.Now,
	}
	go l.pruneLoop()
	return l
}

// Allow consumes one slot for (userID, endpoint). On violation it returns a
// KindRateLimited error carrying the time until the current window expires.
func (l *Limiter) Allow(userID, endpoint string) error {
	key := userID + "|" + endpoint
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.startedAt) >= l.window {
		l.windows[key] = &window{startedAt: now, count: 1}
		return nil
	}
	if w.count >= l.limit {
		retryAfter := w.startedAt.Add(l.window).Sub(now)
		return apperr.RateLimited(retryAfter)
	}
	w.count++
	return nil
}

func (l *Limiter) pruneLoop() {
	for {
		time.Sleep(l.window)
		now := l.now()
		l.mu.Lock()
		for key, w := range l.windows {
			if now.Sub(w.startedAt) >= l.window {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

// IdemStore persists idempotency records. The row is inserted inside the same
// transaction as the mutation it guards, so the insert is the source of truth:
// the gate's own lookup is advisory and a duplicate-key error from the insert
// means "already processed", not a failure.
type IdemStore struct{}

func NewIdemStore() *IdemStore {
	return &IdemStore{}
}

func (s *IdemStore) Begin(ctx context.Context, tx pgx.Tx, scope, key, userID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (scope, idem_key, user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, scope, key, userID, time.Now().UTC())
	return err
}

func (s *IdemStore) SaveResponse(ctx context.Context, tx pgx.Tx, scope, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE idempotency_keys SET response = $1 WHERE scope = $2 AND idem_key = $3
	`, body, scope, key)
	return err
}

// Lookup returns the stored response for a processed key. A row with a null
// response means the original request is still in flight.
func (s *IdemStore) Lookup(ctx context.Context, pool *pgxpool.Pool, scope, key string) ([]byte, error) {
	var body []byte
	err := pool.QueryRow(ctx, `
		SELECT response FROM idempotency_keys WHERE scope = $1 AND idem_key = $2
	`, scope, key).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Internal("idempotency record vanished", err)
		}
		return nil, err
	}
	if body == nil {
		return nil, apperr.Unavailable("request_in_flight", "an identical request is still being processed, retry shortly", nil)
	}
	return body, nil
}

// IsDuplicate reports whether err is the storage layer rejecting a second
// insert for the same (scope, key).
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
