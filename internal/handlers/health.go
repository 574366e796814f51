package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/plany/internal/handlers/render"
	"github.com/nkiryanov/plany/internal/logger"
)

const healthTimeout = 2 * time.Second

func handleHealth(db pinger, l logger.Logger) http.Handler {
	type response struct {
		Status string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			l.Warn("Health check failed", "error", err)
			render.ServiceError(w, "Database unavailable", http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, response{Status: "ok"})
	})
}
