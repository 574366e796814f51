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

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: Save Refresh Token
INSERT INTO refresh_tokens (jti, user_id, session_id, created_at, expires_at, revoked)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING jti, user_id, session_id, created_at, expires_at, revoked`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken, token.JTI, token.UserID, token.SessionID, token.CreatedAt, token.ExpiresAt, token.Revoked)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getToken = `-- name: GetToken by jti
SELECT jti, user_id, session_id, created_at, expires_at, revoked
FROM refresh_tokens
WHERE jti = $1
`

// Get token
// It should return result even it expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, jti uuid.UUID) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, jti)
	return collectRefreshToken(rows)
}

const consumeToken = `-- name: Consume usable token
UPDATE refresh_tokens
SET revoked = true
WHERE jti = $1 AND revoked = false AND expires_at > $2
RETURNING jti, user_id, session_id, created_at, expires_at, revoked
`

// Consume token: flip it revoked if it still usable
// Row lock taken by UPDATE serializes concurrent consumers: the second one sees revoked row and gets ErrRefreshTokenNotFound
func (r *RefreshTokenRepo) Consume(ctx context.Context, jti uuid.UUID, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, consumeToken, jti, now)
	return collectRefreshToken(rows)
}

const revokeToken = `-- name: Revoke token
UPDATE refresh_tokens
SET revoked = true
WHERE jti = $1
`

func (r *RefreshTokenRepo) Revoke(ctx context.Context, jti uuid.UUID) error {
	_, err := r.DB.Exec(ctx, revokeToken, jti)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revokeUserTokens = `-- name: Revoke all user tokens
UPDATE refresh_tokens
SET revoked = true
WHERE user_id = $1 AND revoked = false
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeUserTokens, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredTokens = `-- name: Delete expired tokens
DELETE FROM refresh_tokens
WHERE expires_at <= $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredTokens, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectRefreshToken(rows pgx.Rows) (models.RefreshToken, error) {
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.JTI, &t.UserID, &t.SessionID, &t.CreatedAt, &t.ExpiresAt, &t.Revoked)
	return t, err
}
