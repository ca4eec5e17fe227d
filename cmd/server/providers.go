package main

import (
	"context"

	"github.com/Rrens/intel-chat/internal/broker"
	"github.com/Rrens/intel-chat/internal/config"
	"github.com/Rrens/intel-chat/internal/provider/cache"
	"github.com/Rrens/intel-chat/internal/provider/elastic"
	"github.com/Rrens/intel-chat/internal/provider/gemini"
	"github.com/Rrens/intel-chat/internal/provider/mongo"
	"github.com/Rrens/intel-chat/internal/provider/sqlsource"
	"github.com/Rrens/intel-chat/internal/provider/websearch"
	"github.com/rs/zerolog/log"
)

// registerProviders connects every configured provider and registers it with
// the router. A provider that fails to connect is skipped; the broker treats
// missing providers as empty results. The returned func releases connections.
func registerProviders(ctx context.Context, cfg config.ProvidersConfig, router *broker.Router, store cache.Store) func() {
	var closers []func()
	register := func(p broker.Provider, reach broker.Reach) {
		if store != nil && cfg.Cache.Enabled {
			p = cache.Wrap(p, store)
		}
		router.RegisterProvider(p, reach)
		log.Info().Str("provider", p.Name()).Str("reach", string(reach)).Msg("Registered context provider")
	}

	if len(cfg.Elastic.Addresses) > 0 {
		p, err := elastic.NewProvider(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Elasticsearch provider unavailable, skipping")
		} else {
			if err := p.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("Elasticsearch did not answer ping, registering anyway")
			}
			register(p, broker.ReachInternal)
		}
	}

	for _, sc := range cfg.SQL {
		p, err := sqlsource.Open(ctx, sc)
		if err != nil {
			log.Warn().Err(err).Str("name", sc.Name).Str("driver", sc.Driver).Msg("SQL provider unavailable, skipping")
			continue
		}
		closers = append(closers, func() { p.Close() })
		register(p, broker.ReachInternal)
	}

	if cfg.Mongo.URI != "" {
		p, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("MongoDB provider unavailable, skipping")
		} else {
			closers = append(closers, func() { p.Close(context.Background()) })
			register(p, broker.ReachInternal)
		}
	}

	if web := websearch.NewProvider(cfg.WebSearch); web.IsConfigured() {
		register(web, broker.ReachInternet)
	} else {
		log.Warn().Msg("Web search API key is empty, skipping registration")
	}

	if research := gemini.NewProvider(cfg.Gemini); research.IsConfigured() {
		register(research, broker.ReachDeepResearch)
	} else {
		log.Warn().Msg("Gemini API Key is empty, skipping registration")
	}

	return func() {
		for _, c := range closers {
			c()
		}
	}
}
