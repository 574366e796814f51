package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/plany/internal/apperrors"
	"github.com/nkiryanov/plany/internal/logger"
	"github.com/nkiryanov/plany/internal/models"
	"github.com/nkiryanov/plany/internal/repository"
	"github.com/nkiryanov/plany/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/plany/internal/service/user"
)

// Compared against when email is unknown, so both paths spend the same time hashing
const dummyPassword = "plany-dummy-password"

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error

	// Whether hash should be replaced with a fresh one after successful login
	NeedsRehash(hashedPassword string) bool
}

type Config struct {
	// Hasher to use during user registration or login process
	// DefaultHasher if not set
	Hasher PasswordHasher

	// Password strength rules
	// DefaultPolicyConfig if not set
	Policy PolicyConfig
}

// User with tokens issued on successful login or registration
type AuthResult struct {
	Tokens models.TokenPair
	User   models.User
}

// Auth service
type AuthService struct {
	hasher PasswordHasher
	policy *PasswordPolicy

	// Manager to issue, rotate and revoke token pairs
	tokens *tokenmanager.TokenManager

	storage repository.Storage
	users   *user.UserService
	logger  logger.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, storage repository.Storage, l logger.Logger) (*AuthService, error) {
	if tokens == nil || storage == nil {
		return nil, errors.New("token manager and storage must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	if cfg.Policy == (PolicyConfig{}) {
		cfg.Policy = DefaultPolicyConfig()
	}

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &AuthService{
		hasher:  hasher,
		policy:  NewPasswordPolicy(cfg.Policy),
		tokens:  tokens,
		storage: storage,
		users:   user.NewService(storage.User()),
		logger:  l,
	}, nil
}

// Check email and password pair
// Unknown email and wrong password are indistinguishable: both return ok=false and nil error
// Error is returned only when store failed
func (s *AuthService) ValidateCredentials(ctx context.Context, email string, password string) (models.User, bool, error) {
	u, err := s.users.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.compareDummy(password)
		return models.User{}, false, nil
	case err != nil:
		return models.User{}, false, err
	}

	if !s.verifyPassword(u, password) {
		return models.User{}, false, nil
	}

	return u, true, nil
}

func (s *AuthService) Login(ctx context.Context, email string, password string) (AuthResult, error) {
	var result AuthResult

	u, ok, err := s.ValidateCredentials(ctx, email, password)
	if err != nil {
		return result, err
	}
	if !ok || !u.IsActive {
		s.logger.Debug("Login rejected", "email", email)
		return result, apperrors.ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(u.HashedPassword) {
		u = s.upgradeHash(ctx, u, password)
	}

	pair, err := s.tokens.IssuePair(ctx, u.ID, uuid.Nil)
	if err != nil {
		return result, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return AuthResult{Tokens: pair, User: u}, nil
}

// Create active user with role 'user' and issue the first token pair
// Nothing is stored if any step fails
func (s *AuthService) Register(ctx context.Context, username string, email string, password string) (AuthResult, error) {
	var result AuthResult

	if err := s.policy.Check(password); err != nil {
		return result, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return result, fmt.Errorf("can't use this as password, error=%w", err)
	}

	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		u, err := user.NewService(storage.User()).CreateUser(ctx, repository.CreateUserParams{
			Email:          email,
			Username:       username,
			HashedPassword: hash,
			Role:           models.RoleUser,
		})
		if err != nil {
			return err
		}

		pair, err := s.tokens.WithStorage(storage).IssuePair(ctx, u.ID, uuid.Nil)
		if err != nil {
			return fmt.Errorf("token could not generated, sorry. %w", err)
		}

		result = AuthResult{Tokens: pair, User: u}
		return nil
	})

	return result, err
}

// Replace user password and revoke every session issued under the old one
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword string, newPassword string) error {
	u, err := s.users.FindUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return apperrors.ErrUnauthorized
	case err != nil:
		return err
	case !u.IsActive:
		return apperrors.ErrUnauthorized
	}

	if !s.verifyPassword(u, currentPassword) {
		s.logger.Debug("Password change rejected, current password does not match", "user_id", userID)
		return apperrors.ErrUnauthorized
	}

	if err := s.policy.Check(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("can't use this as password, error=%w", err)
	}

	return s.storage.InTx(ctx, func(storage repository.Storage) error {
		_, err := user.NewService(storage.User()).UpdateUser(ctx, userID, repository.UpdateUserParams{HashedPassword: &hash})
		if err != nil {
			return err
		}

		revoked, err := s.tokens.WithStorage(storage).RevokeAllForUser(ctx, userID, models.ReasonPasswordChange)
		if err != nil {
			return err
		}

		s.logger.Info("Password changed, sessions revoked", "user_id", userID, "revoked_refresh_tokens", revoked)
		return nil
	})
}

// Exchange refresh token for a new pair
// Any token problem is returned as apperrors.ErrUnauthorized
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken)
	if errors.Is(err, apperrors.ErrUnauthorized) {
		s.logger.Debug("Refresh rejected", "reason", err)
	}
	return pair, err
}

// Revoke refresh token and, if it is valid and belongs to the same user, the access token too
func (s *AuthService) Logout(ctx context.Context, refreshToken string, accessToken string) error {
	claims, err := s.tokens.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		s.logger.Debug("Logout rejected", "reason", err)
		return apperrors.ErrUnauthorized
	}

	revoked, err := s.tokens.IsRevoked(ctx, claims)
	if err != nil {
		return err
	}
	if revoked {
		return apperrors.ErrUnauthorized
	}

	return s.storage.InTx(ctx, func(storage repository.Storage) error {
		tokens := s.tokens.WithStorage(storage)

		err := tokens.RevokeToken(ctx, claims.TokenID, claims.UserID, models.TokenTypeRefresh, models.ReasonLogout)
		if err != nil {
			return err
		}

		if accessToken == "" {
			return nil
		}

		access, err := tokens.VerifyAccess(ctx, accessToken)
		if err != nil || access.UserID != claims.UserID {
			return nil
		}

		return tokens.RevokeToken(ctx, access.TokenID, access.UserID, models.TokenTypeAccess, models.ReasonLogout)
	})
}

// Revoke all sessions of the user. Admin operation
func (s *AuthService) RevokeUserSessions(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	if _, err := s.users.FindUserByID(ctx, userID); err != nil {
		return 0, err
	}

	if reason == "" {
		reason = models.ReasonManualRevocation
	}

	revoked, err := s.tokens.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return 0, err
	}

	s.logger.Info("User sessions revoked", "user_id", userID, "reason", reason, "revoked_refresh_tokens", revoked)
	return revoked, nil
}

// Revoke single token by its id. Admin operation
func (s *AuthService) RevokeToken(ctx context.Context, tokenID uuid.UUID, userID uuid.UUID, tokenType models.TokenType, reason string) error {
	if reason == "" {
		reason = models.ReasonManualRevocation
	}

	err := s.tokens.RevokeToken(ctx, tokenID, userID, tokenType, reason)
	if err != nil {
		return err
	}

	s.logger.Info("Token revoked", "token_id", tokenID, "user_id", userID, "token_type", tokenType, "reason", reason)
	return nil
}

// Broken stored hash is logged and treated as mismatch
func (s *AuthService) verifyPassword(u models.User, password string) bool {
	err := s.hasher.Compare(u.HashedPassword, password)
	switch {
	case err == nil:
		return true
	case errors.Is(err, apperrors.ErrPasswordMismatch):
		return false
	default:
		s.logger.Error("Stored password hash could not be verified", "user_id", u.ID, "error", err)
		return false
	}
}

func (s *AuthService) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Error("Failed to prepare dummy hash", "error", err)
			return
		}
		s.dummyHash = hash
	})

	if s.dummyHash != "" {
		_ = s.hasher.Compare(s.dummyHash, password)
	}
}

// Failure to upgrade must not fail the login, old hash keeps working
func (s *AuthService) upgradeHash(ctx context.Context, u models.User, password string) models.User {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("Failed to rehash password", "user_id", u.ID, "error", err)
		return u
	}

	updated, err := s.users.UpdateUser(ctx, u.ID, repository.UpdateUserParams{HashedPassword: &hash})
	if err != nil {
		s.logger.Error("Failed to store upgraded password hash", "user_id", u.ID, "error", err)
		return u
	}

	s.logger.Info("Password hash upgraded", "user_id", u.ID)
	return updated
}
