package middleware

import (
	"net/http"

	"github.com/Rrens/intel-chat/internal/api/response"
	"github.com/Rrens/intel-chat/internal/apperr"
	"github.com/Rrens/intel-chat/internal/domain"
)

// RequireRole admits only callers with one of the given roles
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r.Context())
			if !ok {
				response.Unauthorized(w, "unauthorized")
				return
			}
			if !allowed[identity.Role] {
				response.AppError(w, apperr.New(apperr.CodeAccessDenied, "your role may not perform this action"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
