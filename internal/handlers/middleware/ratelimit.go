package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/nkiryanov/plany/internal/handlers/render"
	"github.com/nkiryanov/plany/internal/logger"
	"github.com/nkiryanov/plany/internal/service/ratelimit"
)

const MsgTooManyRequests = "Too many requests"

type limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// Count request against 'client ip + route' key and reject with 429 over the limit
// Limiter failure lets request through
func RateLimitMiddleware(lim limiter, l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.Pattern
			if route == "" {
				route = r.Method + " " + r.URL.Path
			}
			key := ClientIP(r) + " " + route

			result, err := lim.Allow(r.Context(), key)
			if err != nil {
				l.Error("Rate limiter failed, request let through", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
				render.ServiceError(w, MsgTooManyRequests, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Client address without port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
