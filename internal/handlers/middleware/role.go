package middleware

import (
	"net/http"

	"github.com/nkiryanov/plany/internal/handlers/render"
	"github.com/nkiryanov/plany/internal/handlers/userctx"
	"github.com/nkiryanov/plany/internal/models"
)

const MsgForbidden = "Forbidden"

// Route pattern, as registered in http.ServeMux, to roles allowed to call it
type RoutePolicy map[string][]models.Role

// Allowed reports whether role may call the route. Routes without entry are open to everyone
func (p RoutePolicy) Allowed(pattern string, role models.Role, authenticated bool) bool {
	roles, ok := p[pattern]
	if !ok {
		return true
	}
	if !authenticated {
		return false
	}

	for _, allowed := range roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Reject with 403 when matched route requires role the identity lacks
// Has to run inside ServeMux dispatch, r.Pattern is empty otherwise
func RoleMiddleware(policy RoutePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := userctx.FromContext(r.Context())
			if !policy.Allowed(r.Pattern, identity.Role, ok) {
				render.ServiceError(w, MsgForbidden, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
