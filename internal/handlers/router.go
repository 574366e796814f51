package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/plany/internal/handlers/middleware"
	"github.com/nkiryanov/plany/internal/logger"
	"github.com/nkiryanov/plany/internal/models"
	"github.com/nkiryanov/plany/internal/service/auth"
	"github.com/nkiryanov/plany/internal/service/ratelimit"
)

// Route patterns. Role policy and rate limiter keys refer to them
const (
	routeLogin              = "POST /auth/login"
	routeRegister           = "POST /auth/register"
	routeRefresh            = "POST /auth/refresh"
	routeLogout             = "POST /auth/logout"
	routeChangePassword     = "POST /auth/change-password"
	routeMe                 = "GET /auth/me"
	routeRevokeUserSessions = "POST /auth/admin/users/{id}/revoke"
	routeRevokeToken        = "POST /auth/admin/tokens/revoke"
	routeHealth             = "GET /healthz"
)

var routePolicy = middleware.RoutePolicy{
	routeRevokeUserSessions: {models.RoleAdmin},
	routeRevokeToken:        {models.RoleAdmin},
}

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	tokens tokenVerifier,
	users userFinder,
	lim limiter,
	db pinger,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.AuthMiddleware(tokens, users, logger)
	withRole := middleware.RoleMiddleware(routePolicy)
	withLimit := middleware.RateLimitMiddleware(lim, logger)

	mux := http.NewServeMux()

	mux.Handle(routeLogin, withLimit(handleLogin(authService, logger)))
	mux.Handle(routeRegister, withLimit(handleRegister(authService, logger)))
	mux.Handle(routeRefresh, withLimit(handleRefresh(authService, logger)))
	mux.Handle(routeLogout, handleLogout(authService, logger))

	mux.Handle(routeChangePassword, withAuth(handleChangePassword(authService, logger)))
	mux.Handle(routeMe, withAuth(handleMe(logger)))

	mux.Handle(routeRevokeUserSessions, chain(handleRevokeUserSessions(authService, logger), withAuth, withRole))
	mux.Handle(routeRevokeToken, chain(handleRevokeToken(authService, logger), withAuth, withRole))

	mux.Handle(routeHealth, handleHealth(db, logger))

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Has to return apperrors.ErrInvalidCredentials for unknown email, wrong password or inactive user
	Login(ctx context.Context, email string, password string) (auth.AuthResult, error)

	// Has to return apperrors.ErrWeakPassword, apperrors.ErrEmailTaken or apperrors.ErrUsernameTaken
	Register(ctx context.Context, username string, email string, password string) (auth.AuthResult, error)

	// Any token problem has to be returned as apperrors.ErrUnauthorized
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)
	Logout(ctx context.Context, refresh string, access string) error

	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword string, newPassword string) error

	// Admin operations
	RevokeUserSessions(ctx context.Context, userID uuid.UUID, reason string) (int64, error)
	RevokeToken(ctx context.Context, tokenID uuid.UUID, userID uuid.UUID, tokenType models.TokenType, reason string) error
}

type tokenVerifier interface {
	VerifyAccess(ctx context.Context, access string) (models.TokenClaims, error)
	IsRevoked(ctx context.Context, claims models.TokenClaims) (bool, error)
}

type userFinder interface {
	FindUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
}

type limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}
