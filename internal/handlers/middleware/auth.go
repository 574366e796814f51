package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/plany/internal/apperrors"
	"github.com/nkiryanov/plany/internal/handlers/render"
	"github.com/nkiryanov/plany/internal/handlers/userctx"
	"github.com/nkiryanov/plany/internal/logger"
	"github.com/nkiryanov/plany/internal/models"
)

// Route guard rejection messages
const (
	MsgNoAuthToken     = "No auth token"
	MsgJWTMalformed    = "jwt malformed"
	MsgInvalidSig      = "invalid signature"
	MsgJWTExpired      = "jwt expired"
	MsgInvalidToken    = "invalid token"
	MsgTokenRevoked    = "Token revoked"
	MsgUserNotFound    = "Utilisateur non trouvé"
	MsgInternalFailure = "Internal server error"
)

type tokenVerifier interface {
	VerifyAccess(ctx context.Context, access string) (models.TokenClaims, error)
	IsRevoked(ctx context.Context, claims models.TokenClaims) (bool, error)
}

type userFinder interface {
	FindUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
}

// Resolve identity from 'Authorization: Bearer <token>' header or reject request with 401
// Store failures are rejected with 500
func AuthMiddleware(tokens tokenVerifier, users userFinder, l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := BearerToken(r)
			if !ok {
				render.ServiceError(w, MsgNoAuthToken, http.StatusUnauthorized)
				return
			}

			claims, err := tokens.VerifyAccess(r.Context(), access)
			if err != nil {
				l.Debug("Access token rejected", "error", err)
				render.ServiceError(w, verifyFailureMessage(err), http.StatusUnauthorized)
				return
			}

			revoked, err := tokens.IsRevoked(r.Context(), claims)
			switch {
			case err != nil:
				l.Error("Failed to check token revocation", "error", err, "token_id", claims.TokenID)
				render.ServiceError(w, MsgInternalFailure, http.StatusInternalServerError)
				return
			case revoked:
				render.ServiceError(w, MsgTokenRevoked, http.StatusUnauthorized)
				return
			}

			user, err := users.FindUserByID(r.Context(), claims.UserID)
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, MsgUserNotFound, http.StatusUnauthorized)
				return
			case err != nil:
				l.Error("Failed to find token subject", "error", err, "user_id", claims.UserID)
				render.ServiceError(w, MsgInternalFailure, http.StatusInternalServerError)
				return
			case !user.IsActive:
				render.ServiceError(w, MsgUserNotFound, http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), models.Identity{
				UserID:    user.ID,
				Username:  user.Username,
				Email:     user.Email,
				Role:      user.Role,
				TokenID:   claims.TokenID,
				SessionID: claims.SessionID,
				IssuedAt:  claims.IssuedAt,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Extract token from 'Authorization: Bearer <token>' header
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

func verifyFailureMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return MsgJWTExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return MsgInvalidSig
	case errors.Is(err, jwt.ErrTokenMalformed):
		return MsgJWTMalformed
	default:
		return MsgInvalidToken
	}
}
