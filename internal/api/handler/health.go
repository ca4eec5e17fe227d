package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Rrens/intel-chat/internal/api/response"
	"github.com/Rrens/intel-chat/internal/broker"
	"github.com/go-chi/chi/v5"
)

// Pinger is a dependency that can report its health
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including the configured stores.
// Nil checks are skipped.
func ReadyCheck(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := make(map[string]string, len(checks))
		ready := true
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				status[name] = "unavailable"
				ready = false
				continue
			}
			status[name] = "ok"
		}

		if !ready {
			response.ServiceUnavailable(w, status)
			return
		}

		response.OK(w, map[string]any{
			"status": "ready",
			"checks": status,
		})
	}
}

// ListProviders returns the registered context providers
func ListProviders(router *broker.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]any{
			"providers": router.GetProvidersInfo(),
		})
	}
}

// CacheInvalidator drops cached results of one provider
type CacheInvalidator interface {
	Invalidate(ctx context.Context, provider string) (int64, error)
}

// InvalidateCache clears the cached results of one provider
func InvalidateCache(cache CacheInvalidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		deleted, err := cache.Invalidate(r.Context(), provider)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "failed to invalidate cache")
			return
		}

		response.OK(w, map[string]any{
			"provider":     provider,
			"keys_deleted": deleted,
		})
	}
}
