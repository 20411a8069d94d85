package gate

import (
	"errors"
	"testing"
	"time"

	"lv-cfd/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(limit int, windowSize time.Duration, now *time.Time) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
		now:     func() time.Time { return *now },
	}
}

func TestLimiterFixedWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	l := testLimiter(5, time.Minute, &now)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("u1", "orders"), "request %d should pass", i+1)
	}

	err := l.Allow("u1", "orders")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))

	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, time.Minute, e.RetryAfter, "full window remains when violated immediately")
}

func TestLimiterRetryAfterShrinks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	l := testLimiter(1, time.Minute, &now)

	require.NoError(t, l.Allow("u1", "close"))

	now = now.Add(45 * time.Second)
	err := l.Allow("u1", "close")
	require.Error(t, err)

	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 15*time.Second, e.RetryAfter)
}

func TestLimiterWindowResets(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	l := testLimiter(2, time.Minute, &now)

	require.NoError(t, l.Allow("u1", "orders"))
	require.NoError(t, l.Allow("u1", "orders"))
	require.Error(t, l.Allow("u1", "orders"))

	now = now.Add(time.Minute)
	assert.NoError(t, l.Allow("u1", "orders"), "new window after expiry")
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	l := testLimiter(1, time.Minute, &now)

	require.NoError(t, l.Allow("u1", "orders"))
	assert.Error(t, l.Allow("u1", "orders"))
	assert.NoError(t, l.Allow("u1", "close"), "endpoints are throttled separately")
	assert.NoError(t, l.Allow("u2", "orders"), "users are throttled separately")
}

func TestIsDuplicate(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDuplicate(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicate(errorsWrap(&pgconn.PgError{Code: "23505"})))
	assert.False(t, IsDuplicate(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsDuplicate(errors.New("boom")))
	assert.False(t, IsDuplicate(nil))
}

func errorsWrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "insert failed: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
