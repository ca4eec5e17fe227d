// Package broker fans a query out to context providers and collects whatever
// comes back before the deadline.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// Config bounds how long the broker waits for providers
type Config struct {
	ProviderTimeout  time.Duration       `mapstructure:"provider_timeout"`
	AggregateTimeout time.Duration       `mapstructure:"aggregate_timeout"`
	ProviderLimit    int                 `mapstructure:"provider_limit"`
	Routes           map[string][]string `mapstructure:"routes"`
}

// DefaultConfig returns the standard broker timeouts
func DefaultConfig() Config {
	return Config{
		ProviderTimeout:  5 * time.Second,
		AggregateTimeout: 8 * time.Second,
		ProviderLimit:    10,
	}
}

// Broker dispatches queries to providers concurrently. It holds no per-session state.
type Broker struct {
	router *Router
	cfg    Config
}

// New creates a broker over router, filling unset config from DefaultConfig
func New(router *Router, cfg Config) *Broker {
	def := DefaultConfig()
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = def.ProviderTimeout
	}
	if cfg.AggregateTimeout <= 0 {
		cfg.AggregateTimeout = def.AggregateTimeout
	}
	if cfg.ProviderLimit <= 0 {
		cfg.ProviderLimit = def.ProviderLimit
	}
	return &Broker{router: router, cfg: cfg}
}

type providerResult struct {
	index   int
	sources []domain.Source
	err     error
	timeout bool
	elapsed time.Duration
}

// Query searches every provider the search context allows. Provider failures
// and timeouts never fail the query; they contribute no sources and are
// recorded in the outcomes. When the aggregate timeout fires, results that
// have already arrived are used and late ones are dropped.
func (b *Broker) Query(ctx context.Context, text string, sc domain.SearchContext) *domain.ContextResult {
	start := time.Now()
	providers := b.router.ProvidersFor(sc)

	aggCtx, cancel := context.WithTimeout(ctx, b.cfg.AggregateTimeout)
	defer cancel()

	// buffered so providers that ignore cancellation can still finish and exit
	results := make(chan providerResult, len(providers))
	for i, p := range providers {
		go b.dispatch(aggCtx, i, p, text, results)
	}

	outcomes := make([]domain.ProviderOutcome, len(providers))
	collected := make([][]domain.Source, len(providers))
	done := make([]bool, len(providers))
	for i, p := range providers {
		outcomes[i] = domain.ProviderOutcome{Provider: p.Name()}
	}

	received := 0
wait:
	for received < len(providers) {
		select {
		case r := <-results:
			received++
			done[r.index] = true
			outcomes[r.index].ElapsedMs = r.elapsed.Milliseconds()
			switch {
			case r.err == nil:
				outcomes[r.index].Status = domain.ProviderStatusOK
				outcomes[r.index].Count = len(r.sources)
				collected[r.index] = r.sources
			case r.timeout:
				outcomes[r.index].Status = domain.ProviderStatusTimeout
				outcomes[r.index].Error = r.err.Error()
			default:
				outcomes[r.index].Status = domain.ProviderStatusError
				outcomes[r.index].Error = r.err.Error()
			}
		case <-aggCtx.Done():
			break wait
		}
	}

	elapsed := time.Since(start)
	for i := range outcomes {
		if !done[i] {
			outcomes[i].Status = domain.ProviderStatusTimeout
			outcomes[i].ElapsedMs = elapsed.Milliseconds()
			outcomes[i].Error = "aggregate timeout"
			providerRequests.WithLabelValues(outcomes[i].Provider, string(domain.ProviderStatusTimeout)).Inc()
		}
		if outcomes[i].Status != domain.ProviderStatusOK {
			log.Warn().
				Str("provider", outcomes[i].Provider).
				Str("status", string(outcomes[i].Status)).
				Str("error", outcomes[i].Error).
				Int64("elapsed_ms", outcomes[i].ElapsedMs).
				Msg("context provider contributed no results")
		}
	}

	result := &domain.ContextResult{
		Internal: []domain.Source{},
		Internet: []domain.Source{},
		Outcomes: outcomes,
	}
	for _, sources := range collected {
		for _, s := range sources {
			if s.Type.IsInternet() {
				result.Internet = append(result.Internet, s)
			} else {
				result.Internal = append(result.Internal, s)
			}
		}
	}
	result.ElapsedMs = elapsed.Milliseconds()
	queryDuration.WithLabelValues(string(sc)).Observe(elapsed.Seconds())

	log.Debug().
		Str("search_context", string(sc)).
		Int("providers", len(providers)).
		Int("internal", len(result.Internal)).
		Int("internet", len(result.Internet)).
		Int64("elapsed_ms", result.ElapsedMs).
		Msg("context query completed")

	return result
}

func (b *Broker) dispatch(ctx context.Context, index int, p Provider, text string, out chan<- providerResult) {
	pctx, cancel := context.WithTimeout(ctx, b.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	sources, err := b.search(pctx, p, text)
	elapsed := time.Since(start)

	r := providerResult{index: index, elapsed: elapsed}
	if err != nil {
		r.err = err
		r.timeout = errors.Is(err, context.DeadlineExceeded) || errors.Is(pctx.Err(), context.DeadlineExceeded)
	} else {
		r.sources = b.normalize(p, sources)
	}

	status := domain.ProviderStatusOK
	if r.timeout {
		status = domain.ProviderStatusTimeout
	} else if r.err != nil {
		status = domain.ProviderStatusError
	}
	providerRequests.WithLabelValues(p.Name(), string(status)).Inc()
	providerDuration.WithLabelValues(p.Name()).Observe(elapsed.Seconds())

	out <- r
}

// search calls the provider, turning a panic into an error
func (b *Broker) search(ctx context.Context, p Provider, text string) (sources []domain.Source, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider %s panicked: %v", p.Name(), rec)
		}
	}()
	return p.Search(ctx, text, b.cfg.ProviderLimit)
}

// normalize stamps provider defaults onto sources and enforces the limit
func (b *Broker) normalize(p Provider, sources []domain.Source) []domain.Source {
	if len(sources) > b.cfg.ProviderLimit {
		sources = sources[:b.cfg.ProviderLimit]
	}
	out := make([]domain.Source, 0, len(sources))
	for _, s := range sources {
		if s.Origin == "" {
			s.Origin = p.Name()
		}
		if s.Type == "" {
			s.Type = p.SourceType()
		}
		out = append(out, s)
	}
	return out
}
