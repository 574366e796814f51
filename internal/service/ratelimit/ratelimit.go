package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/nkiryanov/plany/internal/repository"
)

const (
	defaultLimit  = 20
	defaultWindow = time.Minute
)

type Config struct {
	// Hits allowed per key in one window
	Limit int

	// Fixed window length
	Window time.Duration

	// Clock. time.Now if not set
	Now func() time.Time
}

// Outcome of a single hit
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a fixed window counter kept in shared store, so every server instance sees the same counts
type Limiter struct {
	repo   repository.RateLimitRepo
	limit  int
	window time.Duration
	now    func() time.Time
}

func New(cfg Config, repo repository.RateLimitRepo) (*Limiter, error) {
	if repo == nil {
		return nil, errors.New("rate limit repo must not be nil")
	}

	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Limiter{
		repo:   repo,
		limit:  cfg.Limit,
		window: cfg.Window,
		now:    cfg.Now,
	}, nil
}

// Count hit for the key in current window and tell whether it is allowed
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)

	hits, err := l.repo.Hit(ctx, key, windowStart)
	if err != nil {
		return Result{Allowed: true, Limit: l.limit}, err
	}

	result := Result{
		Allowed:   hits <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-hits, 0),
	}
	if !result.Allowed {
		result.RetryAfter = windowStart.Add(l.window).Sub(now)
	}

	return result, nil
}

// Delete windows that ended already
func (l *Limiter) Cleanup(ctx context.Context) (int64, error) {
	return l.repo.DeleteBefore(ctx, l.now().Truncate(l.window))
}
