package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/intel-chat/internal/api"
	"github.com/Rrens/intel-chat/internal/api/handler"
	"github.com/Rrens/intel-chat/internal/blend"
	"github.com/Rrens/intel-chat/internal/broker"
	"github.com/Rrens/intel-chat/internal/composer"
	"github.com/Rrens/intel-chat/internal/config"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/Rrens/intel-chat/internal/gateway"
	"github.com/Rrens/intel-chat/internal/logger"
	"github.com/Rrens/intel-chat/internal/provider/cache"
	"github.com/Rrens/intel-chat/internal/repository/postgres"
	"github.com/Rrens/intel-chat/internal/repository/redis"
	"github.com/Rrens/intel-chat/internal/security"
	"github.com/Rrens/intel-chat/internal/service"
	"github.com/Rrens/intel-chat/internal/session"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	envLoaded := false
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			envLoaded = true
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCloser, err := logger.Setup(cfg.Logging, !cfg.Server.IsProduction(), os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logCloser.Close()

	if !envLoaded {
		log.Debug().Msg(".env file not found in any standard location")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("env", cfg.Server.Env).
		Msg("Starting intel-chat server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	readyChecks := map[string]handler.Pinger{}

	// Initialize database
	var sessionRepo domain.SessionRepository
	if cfg.Database.Enabled {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := postgres.RunMigrations(cfg.Database.DSN(), "file://migrations"); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}

		sqlDB := db.SQL()
		defer sqlDB.Close()
		sessionRepo = postgres.NewSessionRepository(sqlDB)
		readyChecks["database"] = db
	} else {
		log.Warn().Msg("Database disabled, sessions are kept in memory only")
	}

	// Initialize Redis
	var (
		limiter     gateway.Limiter
		sourceCache *redis.SourceCache
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		if cfg.Security.RateLimit.Enabled {
			limiter = redis.NewRateLimiter(
				redisClient,
				cfg.Security.RateLimit.RequestsPerMinute,
				cfg.Security.RateLimit.Burst,
			)
		}
		sourceCache = redis.NewSourceCache(redisClient, cfg.Providers.Cache.TTL)
		readyChecks["redis"] = redisClient
	} else {
		log.Warn().Msg("Redis disabled, rate limiting and source caching are off")
	}

	// Context providers
	router := broker.NewRouter(cfg.Broker.Routes)
	var store cache.Store
	if sourceCache != nil {
		store = sourceCache
	}
	closeProviders := registerProviders(ctx, cfg.Providers, router, store)
	defer closeProviders()

	// Chat pipeline
	comp, err := composer.New(cfg.Composer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build response composer")
	}
	sessions := session.NewStore(cfg.Session, sessionRepo)
	go sessions.Run(ctx)

	chat := service.NewChatService(
		sessions,
		broker.New(router, cfg.Broker),
		blend.NewEngine(cfg.Blend),
		comp,
	)

	deps := api.Dependencies{
		Chat:        chat,
		Gateway:     gateway.New(chat, limiter),
		Providers:   router,
		JWT:         security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL),
		ReadyChecks: readyChecks,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	if sourceCache != nil {
		deps.Cache = sourceCache
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msgf("Server forced to shutdown after %s", cfg.Server.ShutdownTimeout)
	}

	log.Info().Msg("Server stopped")
}
