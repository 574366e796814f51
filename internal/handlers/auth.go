package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/plany/internal/apperrors"
	"github.com/nkiryanov/plany/internal/handlers/middleware"
	"github.com/nkiryanov/plany/internal/handlers/render"
	"github.com/nkiryanov/plany/internal/handlers/userctx"
	"github.com/nkiryanov/plany/internal/logger"
	"github.com/nkiryanov/plany/internal/models"
	"github.com/nkiryanov/plany/internal/service/auth"
)

const msgInternalError = "Internal server error"

type userResponse struct {
	ID       uuid.UUID   `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

type tokensResponse struct {
	AccessToken      string        `json:"accessToken"`
	RefreshToken     string        `json:"refreshToken"`
	AccessExpiresAt  time.Time     `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time     `json:"refreshExpiresAt"`
	User             *userResponse `json:"user,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func newUserResponse(u models.User) *userResponse {
	return &userResponse{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
}

func newTokensResponse(pair models.TokenPair) tokensResponse {
	return tokensResponse{
		AccessToken:      pair.Access.Value,
		RefreshToken:     pair.Refresh.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	}
}

func newAuthResponse(result auth.AuthResult) tokensResponse {
	res := newTokensResponse(result.Tokens)
	res.User = newUserResponse(result.User)
	return res
}

// Rule message without the sentinel suffix, e.g. 'password must be at least 8 characters long'
func weakPasswordMessage(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+apperrors.ErrWeakPassword.Error())
}

func handleLogin(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		result, err := authService.Login(r.Context(), data.Email, data.Password)
		switch {
		case err == nil:
			render.JSON(w, newAuthResponse(result))
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid email or password", http.StatusUnauthorized)
		default:
			l.Error("Failed to login", "error", err)
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
		}
	})
}

func handleRegister(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required,min=2,max=50"`
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		result, err := authService.Register(r.Context(), data.Username, data.Email, data.Password)
		switch {
		case err == nil:
			render.JSON(w, newAuthResponse(result))
		case errors.Is(err, apperrors.ErrWeakPassword):
			render.FieldErrors(w, "Password is too weak", map[string]string{"password": weakPasswordMessage(err)})
		case errors.Is(err, apperrors.ErrEmailTaken):
			render.FieldErrors(w, "User already exists", map[string]string{"email": "Email is already in use"})
		case errors.Is(err, apperrors.ErrUsernameTaken):
			render.FieldErrors(w, "User already exists", map[string]string{"username": "Username is already in use"})
		default:
			l.Error("Failed to register user", "error", err)
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
		}
	})
}

func handleRefresh(authService authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Refresh(r.Context(), data.RefreshToken)
		switch {
		case err == nil:
			render.JSON(w, newTokensResponse(pair))
		case errors.Is(err, apperrors.ErrUnauthorized):
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		default:
			l.Error("Failed to refresh tokens", "error", err)
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
		}
	})
}

// Access token is optional here: expired access token must not prevent logout
func handleLogout(authService authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		access, _ := middleware.BearerToken(r)

		err = authService.Logout(r.Context(), data.RefreshToken, access)
		switch {
		case err == nil:
			render.JSON(w, messageResponse{Message: "Logged out"})
		case errors.Is(err, apperrors.ErrUnauthorized):
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		default:
			l.Error("Failed to logout", "error", err)
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
		}
	})
}

func handleChangePassword(authService authService, l logger.Logger) http.Handler {
	type request struct {
		CurrentPassword string `json:"currentPassword" validate:"required"`
		NewPassword     string `json:"newPassword" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = authService.ChangePassword(r.Context(), identity.UserID, data.CurrentPassword, data.NewPassword)
		switch {
		case err == nil:
			render.JSON(w, messageResponse{Message: "Password changed"})
		case errors.Is(err, apperrors.ErrUnauthorized):
			render.ServiceError(w, "Invalid current password", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrWeakPassword):
			render.FieldErrors(w, "Password is too weak", map[string]string{"newPassword": weakPasswordMessage(err)})
		default:
			l.Error("Failed to change password", "error", err, "user_id", identity.UserID)
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
		}
	})
}

func handleRevokeUserSessions(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Reason string `json:"reason" validate:"omitempty,max=64"`
	}
	type response struct {
		Message              string `json:"message"`
		RevokedRefreshTokens int64  `json:"revokedRefreshTokens"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.FieldErrors(w, "Request validation failed", map[string]string{"id": "Must be a valid UUID"})
			return
		}

		data, err := render.BindAndValidateOptional[request](w, r)
		if err != nil {
			return
		}

		revoked, err := authService.RevokeUserSessions(r.Context(), userID, data.Reason)
		switch {
		case err == nil:
			render.JSON(w, response{Message: "User sessions revoked", RevokedRefreshTokens: revoked})
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			l.Error("Failed to revoke user sessions", "error", err, "user_id", userID)
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
		}
	})
}

func handleRevokeToken(authService authService, l logger.Logger) http.Handler {
	type request struct {
		TokenID   string `json:"tokenId" validate:"required,uuid"`
		UserID    string `json:"userId" validate:"required,uuid"`
		TokenType string `json:"tokenType" validate:"required,oneof=access refresh"`
		Reason    string `json:"reason" validate:"omitempty,max=64"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		// Both are valid, checked by the validator above
		tokenID := uuid.MustParse(data.TokenID)
		userID := uuid.MustParse(data.UserID)

		err = authService.RevokeToken(r.Context(), tokenID, userID, models.TokenType(data.TokenType), data.Reason)
		switch err {
		case nil:
			render.JSON(w, messageResponse{Message: "Token revoked"})
		default:
			l.Error("Failed to revoke token", "error", err, "token_id", tokenID)
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
		}
	})
}
