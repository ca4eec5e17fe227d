package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Rrens/intel-chat/internal/api/response"
	"github.com/Rrens/intel-chat/internal/apperr"
	"github.com/rs/zerolog/log"
)

// Limiter decides whether a key may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, time.Time, error)
}

// RateLimitMiddleware handles rate limiting
type RateLimitMiddleware struct {
	limiter Limiter
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

// Limit applies the per-user chat message budget
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r.Context())
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}

		allowed, remaining, resetTime, err := m.limiter.Allow(r.Context(), identity.RateLimitKey())
		if err != nil {
			log.Warn().Err(err).Str("user_id", identity.UserID).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", resetTime.UTC().Format(time.RFC3339))

		if !allowed {
			response.AppError(w, apperr.New(apperr.CodeRateLimited, "too many messages, please slow down"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
