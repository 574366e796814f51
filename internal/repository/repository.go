package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/plany/internal/models"
)

type CreateUserParams struct {
	Email          string
	Username       string
	HashedPassword string
	Role           models.Role
}

// Partial user update. Nil fields are left untouched
type UpdateUserParams struct {
	HashedPassword *string
	Role           *models.Role
	IsActive       *bool
}

// User repository interface
type UserRepo interface {
	// Create user
	// If email is taken has to return apperrors.ErrEmailTaken
	// If username is taken has to return apperrors.ErrUsernameTaken
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id, email or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// If user not found must return apperrors.ErrUserNotFound
	UpdateUser(ctx context.Context, userID uuid.UUID, params UpdateUserParams) (models.User, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save issued refresh token record
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token record even it expired or revoked
	// If not found must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, jti uuid.UUID) (models.RefreshToken, error)

	// Flip token to revoked if it is not revoked and not expired at 'now'
	// Has to return apperrors.ErrRefreshTokenNotFound if no such usable token exists
	Consume(ctx context.Context, jti uuid.UUID, now time.Time) (models.RefreshToken, error)

	// Mark token revoked. Revoking already revoked token is not an error
	Revoke(ctx context.Context, jti uuid.UUID) error

	// Mark every token of the user revoked and return how many were flipped
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Delete records expired at 'now'
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Token blacklist repository interface
type BlacklistRepo interface {
	// Add entry. The token id is unique
	// If it is blacklisted already must return apperrors.ErrAlreadyBlacklisted
	Add(ctx context.Context, entry models.BlacklistEntry) (models.BlacklistEntry, error)

	// Check exact token id is blacklisted and the entry is not expired at 'now'
	Contains(ctx context.Context, tokenID string, now time.Time) (bool, error)

	// Check exact token id as well as user-wide marker created at or after issuedAt
	IsRevoked(ctx context.Context, tokenID string, userID uuid.UUID, issuedAt time.Time, now time.Time) (bool, error)

	// Delete entries expired at 'now'
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Fixed window hit counters shared by all server instances
type RateLimitRepo interface {
	// Atomically increment counter for the key in window and return hits after increment
	Hit(ctx context.Context, key string, windowStart time.Time) (int, error)

	// Delete windows started before 'before'
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Blacklist() BlacklistRepo
	RateLimit() RateLimitRepo

	// Run fn in transaction. Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
