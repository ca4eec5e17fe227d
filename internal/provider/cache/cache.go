// Package cache memoizes provider results in Redis and collapses
// concurrent identical queries into one provider call.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/intel-chat/internal/broker"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Store persists provider results
type Store interface {
	Get(ctx context.Context, provider, query string, limit int) ([]domain.Source, bool, error)
	Set(ctx context.Context, provider, query string, limit int, sources []domain.Source) error
	Key(provider, query string, limit int) string
}

// DefaultFlightTimeout bounds a shared provider call. The call outlives any
// single caller's deadline so later joiners can still use its result.
const DefaultFlightTimeout = 10 * time.Second

// Provider wraps another provider with a result cache. Cache failures
// fall through to the wrapped provider.
type Provider struct {
	next          broker.Provider
	store         Store
	group         singleflight.Group
	flightTimeout time.Duration
}

// Wrap decorates next with store
func Wrap(next broker.Provider, store Store) *Provider {
	return &Provider{next: next, store: store, flightTimeout: DefaultFlightTimeout}
}

// WithFlightTimeout overrides how long a shared provider call may run
func (p *Provider) WithFlightTimeout(d time.Duration) *Provider {
	if d > 0 {
		p.flightTimeout = d
	}
	return p
}

func (p *Provider) Name() string {
	return p.next.Name()
}

func (p *Provider) SourceType() domain.SourceType {
	return p.next.SourceType()
}

func (p *Provider) IsConfigured() bool {
	return p.next.IsConfigured()
}

func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.Source, error) {
	name := p.next.Name()

	sources, ok, err := p.store.Get(ctx, name, query, limit)
	if err != nil {
		log.Warn().Err(err).Str("provider", name).Msg("source cache read failed")
	}
	if ok {
		cacheLookups.WithLabelValues(name, "hit").Inc()
		return sources, nil
	}
	cacheLookups.WithLabelValues(name, "miss").Inc()

	ch := p.group.DoChan(p.store.Key(name, query, limit), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.flightTimeout)
		defer cancel()
		return p.fill(fctx, name, query, limit)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		cacheLookups.WithLabelValues(name, "shared").Inc()
	}

	found := res.Val.([]domain.Source)
	out := make([]domain.Source, len(found))
	copy(out, found)
	return out, nil
}

// fill calls the wrapped provider and stores its result. A panic becomes an
// error since nothing upstream can recover a panic inside the flight.
func (p *Provider) fill(ctx context.Context, name, query string, limit int) (found []domain.Source, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			found, err = nil, fmt.Errorf("provider %s panicked: %v", name, rec)
		}
	}()

	found, err = p.next.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, name, query, limit, found); err != nil {
		log.Warn().Err(err).Str("provider", name).Msg("source cache write failed")
	}
	return found, nil
}
