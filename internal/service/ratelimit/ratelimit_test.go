package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/plany/internal/repository/postgres"
	"github.com/nkiryanov/plany/internal/testutil"
)

func TestLimiter(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	withTx := func(t *testing.T, limit int, fn func(l *Limiter, clock *testutil.Clock)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			clock := testutil.NewClock(start)
			l, err := New(Config{Limit: limit, Window: time.Minute, Now: clock.Now}, postgres.NewStorage(tx).RateLimit())
			require.NoError(t, err)

			fn(l, clock)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		l, err := New(Config{}, &postgres.RateLimitRepo{DB: pg.Pool})
		require.NoError(t, err)

		assert.Equal(t, defaultLimit, l.limit)
		assert.Equal(t, defaultWindow, l.window)

		_, err = New(Config{}, nil)
		require.Error(t, err)
	})

	t.Run("limit within window", func(t *testing.T) {
		withTx(t, 3, func(l *Limiter, clock *testutil.Clock) {
			for i := range 3 {
				result, err := l.Allow(t.Context(), "127.0.0.1 POST /auth/login")
				require.NoError(t, err)
				assert.True(t, result.Allowed, "hit %d", i+1)
				assert.Equal(t, 2-i, result.Remaining)
			}

			clock.Advance(20 * time.Second)
			result, err := l.Allow(t.Context(), "127.0.0.1 POST /auth/login")
			require.NoError(t, err)

			assert.False(t, result.Allowed)
			assert.Equal(t, 0, result.Remaining)
			assert.Equal(t, 40*time.Second, result.RetryAfter, "retry when window ends")
		})
	})

	t.Run("next window resets", func(t *testing.T) {
		withTx(t, 1, func(l *Limiter, clock *testutil.Clock) {
			result, err := l.Allow(t.Context(), "key")
			require.NoError(t, err)
			require.True(t, result.Allowed)
			result, err = l.Allow(t.Context(), "key")
			require.NoError(t, err)
			require.False(t, result.Allowed)

			clock.Advance(time.Minute)

			result, err = l.Allow(t.Context(), "key")
			require.NoError(t, err)
			assert.True(t, result.Allowed)
		})
	})

	t.Run("keys are independent", func(t *testing.T) {
		withTx(t, 1, func(l *Limiter, clock *testutil.Clock) {
			_, err := l.Allow(t.Context(), "10.0.0.1 POST /auth/login")
			require.NoError(t, err)

			result, err := l.Allow(t.Context(), "10.0.0.2 POST /auth/login")
			require.NoError(t, err)
			assert.True(t, result.Allowed)

			result, err = l.Allow(t.Context(), "10.0.0.1 POST /auth/register")
			require.NoError(t, err)
			assert.True(t, result.Allowed)
		})
	})

	t.Run("cleanup ended windows", func(t *testing.T) {
		withTx(t, 5, func(l *Limiter, clock *testutil.Clock) {
			_, err := l.Allow(t.Context(), "old")
			require.NoError(t, err)
			clock.Advance(time.Minute)
			_, err = l.Allow(t.Context(), "current")
			require.NoError(t, err)

			deleted, err := l.Cleanup(t.Context())
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			deleted, err = l.Cleanup(t.Context())
			require.NoError(t, err)
			assert.Equal(t, int64(0), deleted)
		})
	})

	// Shared pool: every hit goes through its own connection
	t.Run("concurrent hits are counted exactly", func(t *testing.T) {
		clock := testutil.NewClock(time.Now())
		l, err := New(Config{Limit: 10, Window: time.Hour, Now: clock.Now}, &postgres.RateLimitRepo{DB: pg.Pool})
		require.NoError(t, err)
		key := "concurrent " + t.Name()

		const hits = 25
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for range hits {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := l.Allow(t.Context(), key)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if result.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, allowed)
	})
}
