package api

import (
	"net/http"
	"time"

	"github.com/Rrens/intel-chat/internal/api/handler"
	customMiddleware "github.com/Rrens/intel-chat/internal/api/middleware"
	"github.com/Rrens/intel-chat/internal/broker"
	"github.com/Rrens/intel-chat/internal/config"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/Rrens/intel-chat/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the wired components the router serves
type Dependencies struct {
	Chat      handler.ChatService
	Gateway   handler.ConnectionServer
	Providers *broker.Router
	JWT       *security.JWTManager

	// Optional; nil disables the feature
	Limiter     customMiddleware.Limiter
	Cache       handler.CacheInvalidator
	ReadyChecks map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(customMiddleware.Recover)

	// CORS
	origins := cfg.Security.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)
	chatHandler := handler.NewChatHandler(deps.Chat)
	wsConfig := cfg.Transport
	if len(wsConfig.AllowedOrigins) == 0 {
		wsConfig.AllowedOrigins = cfg.Security.AllowedOrigins
	}
	wsHandler := handler.NewWSHandler(deps.Gateway, wsConfig)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.ReadyChecks))

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			// Long-lived; must stay outside the request timeout
			r.Get("/ws", wsHandler.Connect)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout(cfg)))

				r.Get("/access-profile", handler.AccessProfile)
				r.Get("/providers", handler.ListProviders(deps.Providers))

				r.Route("/sessions/{sessionID}", func(r chi.Router) {
					r.Get("/messages", chatHandler.History)
					r.Delete("/", chatHandler.Delete)
				})

				r.Group(func(r chi.Router) {
					if deps.Limiter != nil && cfg.Security.RateLimit.Enabled {
						r.Use(customMiddleware.NewRateLimitMiddleware(deps.Limiter).Limit)
					}
					r.Post("/chat", chatHandler.Send)
				})

				if deps.Cache != nil {
					r.With(customMiddleware.RequireRole(domain.RoleCEO)).
						Post("/providers/{provider}/cache/invalidate", handler.InvalidateCache(deps.Cache))
				}
			})
		})
	})

	return r
}

// requestTimeout bounds plain HTTP requests. The chat fallback runs the whole
// pipeline, so it must outlast the broker's aggregate timeout.
func requestTimeout(cfg *config.Config) time.Duration {
	timeout := cfg.Server.WriteTimeout
	if floor := cfg.Broker.AggregateTimeout + 5*time.Second; timeout < floor {
		timeout = floor
	}
	return timeout
}
