package main

import (
	"flag"
	"os"

	"github.com/Rrens/intel-chat/internal/config"
	"github.com/Rrens/intel-chat/internal/logger"
	"github.com/Rrens/intel-chat/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 1, "number of migrations to roll back with -direction=down")
	source := flag.String("source", "file://migrations", "migration source URL")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if _, err := logger.Setup(cfg.Logging, !cfg.Server.IsProduction(), os.Stderr); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("direction", *direction).
		Msg("Running database migrations")

	switch *direction {
	case "up":
		err = postgres.RunMigrations(cfg.Database.DSN(), *source)
	case "down":
		if *steps < 1 {
			log.Fatal().Int("steps", *steps).Msg("steps must be at least 1")
		}
		err = postgres.RollbackMigrations(cfg.Database.DSN(), *source, *steps)
	default:
		log.Fatal().Str("direction", *direction).Msg("unknown direction, want up or down")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
