package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/plany/internal/models"
	"github.com/nkiryanov/plany/internal/repository"
)

// UserService is the user-management collaborator of the auth core
// Emails are compared case-insensitively, so they are stored normalized
type UserService struct {
	userRepo repository.UserRepo
}

func NewService(userRepo repository.UserRepo) *UserService {
	return &UserService{userRepo: userRepo}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create user with already hashed password
// Returns apperrors.ErrEmailTaken or apperrors.ErrUsernameTaken on conflict
func (s *UserService) CreateUser(ctx context.Context, params repository.CreateUserParams) (models.User, error) {
	params.Email = NormalizeEmail(params.Email)
	params.Username = strings.TrimSpace(params.Username)

	user, err := s.userRepo.CreateUser(ctx, params)
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) FindUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}

func (s *UserService) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.userRepo.GetUserByEmail(ctx, NormalizeEmail(email))
}

func (s *UserService) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	return s.userRepo.GetUserByUsername(ctx, strings.TrimSpace(username))
}

func (s *UserService) UpdateUser(ctx context.Context, userID uuid.UUID, params repository.UpdateUserParams) (models.User, error) {
	user, err := s.userRepo.UpdateUser(ctx, userID, params)
	if err != nil {
		return user, fmt.Errorf("can't update user. Err: %w", err)
	}

	return user, nil
}
