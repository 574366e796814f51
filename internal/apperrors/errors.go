package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound = errors.New("user not found")

	// Registration conflicts. Both wrap ErrConflict
	ErrConflict      = errors.New("conflict")
	ErrEmailTaken    = fmt.Errorf("email already in use: %w", ErrConflict)
	ErrUsernameTaken = fmt.Errorf("username already in use: %w", ErrConflict)

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")

	ErrPasswordMismatch  = errors.New("password does not match")
	ErrInvalidHashFormat = errors.New("invalid password hash format")

	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
	ErrTokenRevoked = errors.New("token is revoked")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrAlreadyBlacklisted   = errors.New("token already blacklisted")
)
