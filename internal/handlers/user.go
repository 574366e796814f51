package handlers

import (
	"net/http"

	"github.com/nkiryanov/plany/internal/handlers/render"
	"github.com/nkiryanov/plany/internal/handlers/userctx"
	"github.com/nkiryanov/plany/internal/logger"
)

func handleMe(l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := userctx.FromContext(r.Context())
		if !ok {
			l.Error("Identity missing in authenticated route", "uri", r.RequestURI)
			render.ServiceError(w, msgInternalError, http.StatusInternalServerError)
			return
		}

		render.JSON(w, userResponse{
			ID:       identity.UserID,
			Username: identity.Username,
			Email:    identity.Email,
			Role:     identity.Role,
		})
	})
}
