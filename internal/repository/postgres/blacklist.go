package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/plany/internal/apperrors"
	"github.com/nkiryanov/plany/internal/models"
)

type BlacklistRepo struct {
	DB DBTX
}

// Conflict on token_id yields no row, so duplicate never aborts surrounding transaction
const addEntry = `-- name: Add blacklist entry
INSERT INTO token_blacklist (token_id, user_id, token_type, reason, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (token_id) DO NOTHING
RETURNING token_id, user_id, token_type, reason, created_at, expires_at
`

func (r *BlacklistRepo) Add(ctx context.Context, entry models.BlacklistEntry) (models.BlacklistEntry, error) {
	rows, _ := r.DB.Query(ctx, addEntry, entry.TokenID, entry.UserID, entry.TokenType, entry.Reason, entry.CreatedAt, entry.ExpiresAt)
	added, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.BlacklistEntry, error) {
		var e models.BlacklistEntry
		err := row.Scan(&e.TokenID, &e.UserID, &e.TokenType, &e.Reason, &e.CreatedAt, &e.ExpiresAt)
		return e, err
	})

	switch {
	case err == nil:
		return added, nil
	case errors.Is(err, pgx.ErrNoRows):
		return added, fmt.Errorf("repo error: %w", apperrors.ErrAlreadyBlacklisted)
	default:
		return added, fmt.Errorf("db error: %w", err)
	}
}

const containsEntry = `-- name: Token id is blacklisted
SELECT EXISTS (
	SELECT 1 FROM token_blacklist
	WHERE token_id = $1 AND expires_at > $2
)`

func (r *BlacklistRepo) Contains(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, containsEntry, tokenID, now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// Both revocation tiers in one round trip: exact token id or user-wide marker not older than token issuance
const isRevoked = `-- name: Token is revoked
SELECT EXISTS (
	SELECT 1 FROM token_blacklist
	WHERE expires_at > $4
	  AND (
		token_id = $1
		OR (user_id = $2 AND token_type = 'all' AND created_at >= $3)
	  )
)`

func (r *BlacklistRepo) IsRevoked(ctx context.Context, tokenID string, userID uuid.UUID, issuedAt time.Time, now time.Time) (bool, error) {
	var revoked bool
	err := r.DB.QueryRow(ctx, isRevoked, tokenID, userID, issuedAt, now).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return revoked, nil
}

const deleteExpiredEntries = `-- name: Delete expired blacklist entries
DELETE FROM token_blacklist
WHERE expires_at <= $1
`

func (r *BlacklistRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredEntries, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

