package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type RateLimitRepo struct {
	DB DBTX
}

// Increment-and-read is atomic: concurrent hits on the same window serialize on the row
const hitWindow = `-- name: Hit rate limit window
INSERT INTO rate_limits (key, window_start, hits)
VALUES ($1, $2, 1)
ON CONFLICT (key, window_start) DO UPDATE SET hits = rate_limits.hits + 1
RETURNING hits
`

func (r *RateLimitRepo) Hit(ctx context.Context, key string, windowStart time.Time) (int, error) {
	rows, _ := r.DB.Query(ctx, hitWindow, key, windowStart)
	hits, err := pgx.CollectOneRow(rows, pgx.RowTo[int])
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return hits, nil
}

const deleteWindows = `-- name: Delete old windows
DELETE FROM rate_limits
WHERE window_start < $1
`

func (r *RateLimitRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteWindows, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
