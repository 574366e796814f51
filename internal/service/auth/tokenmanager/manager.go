package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/plany/internal/apperrors"
	"github.com/nkiryanov/plany/internal/models"
	"github.com/nkiryanov/plany/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultBlacklistTTL    = 30 * 24 * time.Hour
)

// Token manager with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Required to be set and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// How long blacklist entries are kept
	BlacklistTTL time.Duration

	// Clock. time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	codec *Codec

	accessKey  []byte
	refreshKey []byte

	accessTTL    time.Duration
	refreshTTL   time.Duration
	blacklistTTL time.Duration

	now func() time.Time

	storage repository.Storage
}

func New(cfg Config, storage repository.Storage) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secret keys must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secret keys must differ")
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)
	setDefaultDuration(&cfg.BlacklistTTL, defaultBlacklistTTL)

	codec, err := NewCodec(cfg.Alg, cfg.Now)
	if err != nil {
		return nil, err
	}

	return &TokenManager{
		codec:        codec,
		accessKey:    []byte(cfg.AccessSecret),
		refreshKey:   []byte(cfg.RefreshSecret),
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
		blacklistTTL: cfg.BlacklistTTL,
		now:          cfg.Now,
		storage:      storage,
	}, nil
}

// WithStorage returns manager copy bound to storage, e.g. to run inside caller's transaction
func (m *TokenManager) WithStorage(storage repository.Storage) *TokenManager {
	c := *m
	c.storage = storage
	return &c
}

// Issue access and refresh tokens for user
// New session is started if sessionID is uuid.Nil
// Only refresh half is persisted
func (m *TokenManager) IssuePair(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) (models.TokenPair, error) {
	return m.issuePair(ctx, m.storage, userID, sessionID)
}

func (m *TokenManager) issuePair(ctx context.Context, s repository.Storage, userID uuid.UUID, sessionID uuid.UUID) (models.TokenPair, error) {
	var pair models.TokenPair

	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}

	access, accessClaims, err := m.codec.Sign(
		models.TokenClaims{UserID: userID, TokenID: uuid.New(), SessionID: sessionID, Type: models.TokenTypeAccess},
		m.accessKey,
		m.accessTTL,
	)
	if err != nil {
		return pair, err
	}

	refresh, refreshClaims, err := m.codec.Sign(
		models.TokenClaims{UserID: userID, TokenID: uuid.New(), SessionID: sessionID, Type: models.TokenTypeRefresh},
		m.refreshKey,
		m.refreshTTL,
	)
	if err != nil {
		return pair, err
	}

	_, err = s.Refresh().Save(ctx, models.RefreshToken{
		JTI:       refreshClaims.TokenID,
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: refreshClaims.IssuedAt,
		ExpiresAt: refreshClaims.ExpiresAt,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		SessionID: sessionID,
		Access:    models.IssuedToken{ID: accessClaims.TokenID, Value: access, ExpiresAt: accessClaims.ExpiresAt},
		Refresh:   models.IssuedToken{ID: refreshClaims.TokenID, Value: refresh, ExpiresAt: refreshClaims.ExpiresAt},
	}, nil
}

// Exchange refresh token for a new pair of the same session. Every refresh token is usable once
// Any rejection is returned as apperrors.ErrUnauthorized, store failures are returned as is
func (m *TokenManager) Rotate(ctx context.Context, refresh string) (models.TokenPair, error) {
	var pair models.TokenPair

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		claims, err := m.codec.Verify(refresh, m.refreshKey, models.TokenTypeRefresh)
		if err != nil {
			return unauthorized(err)
		}

		now := m.now()

		revoked, err := s.Blacklist().IsRevoked(ctx, claims.TokenID.String(), claims.UserID, claims.IssuedAt, now)
		if err != nil {
			return err
		}
		if revoked {
			return unauthorized(apperrors.ErrTokenRevoked)
		}

		record, err := s.Refresh().Consume(ctx, claims.TokenID, now)
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			return unauthorized(err)
		case err != nil:
			return err
		case record.UserID != claims.UserID:
			return unauthorized(errors.New("refresh token owner mismatch"))
		}

		// Racing rotation of the same token fails here loudly
		_, err = s.Blacklist().Add(ctx, models.BlacklistEntry{
			TokenID:   claims.TokenID.String(),
			UserID:    claims.UserID,
			TokenType: models.TokenTypeRefresh,
			Reason:    models.ReasonRotation,
			CreatedAt: now,
			ExpiresAt: now.Add(m.blacklistTTL),
		})
		switch {
		case errors.Is(err, apperrors.ErrAlreadyBlacklisted):
			return unauthorized(err)
		case err != nil:
			return err
		}

		user, err := s.User().GetUserByID(ctx, claims.UserID)
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			return unauthorized(err)
		case err != nil:
			return err
		case !user.IsActive:
			return unauthorized(apperrors.ErrUserNotFound)
		}

		pair, err = m.issuePair(ctx, s, claims.UserID, record.SessionID)
		return err
	})

	return pair, err
}

// Blacklist single token. For refresh tokens the stored record is revoked too
// Revoking already revoked token is not an error
func (m *TokenManager) RevokeToken(ctx context.Context, tokenID uuid.UUID, userID uuid.UUID, tokenType models.TokenType, reason string) error {
	if tokenType != models.TokenTypeAccess && tokenType != models.TokenTypeRefresh {
		return fmt.Errorf("can't revoke token of type %q", tokenType)
	}

	return m.storage.InTx(ctx, func(s repository.Storage) error {
		now := m.now()

		_, err := s.Blacklist().Add(ctx, models.BlacklistEntry{
			TokenID:   tokenID.String(),
			UserID:    userID,
			TokenType: tokenType,
			Reason:    reason,
			CreatedAt: now,
			ExpiresAt: now.Add(m.blacklistTTL),
		})
		if err != nil && !errors.Is(err, apperrors.ErrAlreadyBlacklisted) {
			return err
		}

		if tokenType == models.TokenTypeRefresh {
			return s.Refresh().Revoke(ctx, tokenID)
		}
		return nil
	})
}

// Revoke every token issued to the user up to now
// Returns number of refresh tokens flipped to revoked
func (m *TokenManager) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	var revoked int64

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		now := m.now()

		// Marker has to outlive every token it covers
		ttl := max(m.blacklistTTL, m.refreshTTL, m.accessTTL)

		_, err := s.Blacklist().Add(ctx, models.BlacklistEntry{
			TokenID:   AllTokensMarkerID(userID),
			UserID:    userID,
			TokenType: models.TokenTypeAll,
			Reason:    reason,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		})
		if err != nil {
			return err
		}

		revoked, err = s.Refresh().RevokeAllForUser(ctx, userID)
		return err
	})

	return revoked, err
}

// Check token id is blacklisted exactly. User-wide markers are not considered
func (m *TokenManager) IsBlacklisted(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	return m.storage.Blacklist().Contains(ctx, tokenID.String(), m.now())
}

// Check token is blacklisted by its id or by user-wide marker created at or after token issuance
func (m *TokenManager) IsRevoked(ctx context.Context, claims models.TokenClaims) (bool, error) {
	return m.storage.Blacklist().IsRevoked(ctx, claims.TokenID.String(), claims.UserID, claims.IssuedAt, m.now())
}

// Verify access token signature and expiry. Blacklist is not consulted
func (m *TokenManager) VerifyAccess(ctx context.Context, access string) (models.TokenClaims, error) {
	return m.codec.Verify(access, m.accessKey, models.TokenTypeAccess)
}

// Verify refresh token signature and expiry. Neither blacklist nor store are consulted
func (m *TokenManager) VerifyRefresh(ctx context.Context, refresh string) (models.TokenClaims, error) {
	return m.codec.Verify(refresh, m.refreshKey, models.TokenTypeRefresh)
}

func (m *TokenManager) CleanupExpiredBlacklistedTokens(ctx context.Context) (int64, error) {
	return m.storage.Blacklist().DeleteExpired(ctx, m.now())
}

func (m *TokenManager) CleanupExpiredRefreshTokens(ctx context.Context) (int64, error) {
	return m.storage.Refresh().DeleteExpired(ctx, m.now())
}

// Synthetic blacklist id of user-wide marker. Unique per revocation
func AllTokensMarkerID(userID uuid.UUID) string {
	return fmt.Sprintf("all:%s:%s", userID, uuid.NewString())
}

func unauthorized(cause error) error {
	return fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, cause)
}
