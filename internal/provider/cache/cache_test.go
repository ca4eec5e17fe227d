package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rrens/intel-chat/internal/broker"
	"github.com/Rrens/intel-chat/internal/domain"
	redisrepo "github.com/Rrens/intel-chat/internal/repository/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*redisrepo.SourceCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redisrepo.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return redisrepo.NewSourceCache(client, time.Minute), mr
}

func countingProvider(calls *int32, block <-chan struct{}) broker.ProviderFunc {
	return broker.ProviderFunc{
		ProviderName: "kb",
		Type:         domain.SourceTypeInternal,
		Fn: func(ctx context.Context, query string, limit int) ([]domain.Source, error) {
			atomic.AddInt32(calls, 1)
			if block != nil {
				<-block
			}
			return []domain.Source{{Type: domain.SourceTypeInternal, Origin: "kb", Title: query, RelevanceScore: 0.7}}, nil
		},
	}
}

func TestSearch_CachesResults(t *testing.T) {
	store, _ := setupStore(t)
	var calls int32
	p := Wrap(countingProvider(&calls, nil), store)

	first, err := p.Search(context.Background(), "pipeline", 10)
	require.NoError(t, err)
	second, err := p.Search(context.Background(), "pipeline", 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = p.Search(context.Background(), "revenue", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	assert.Equal(t, "kb", p.Name())
	assert.Equal(t, domain.SourceTypeInternal, p.SourceType())
	assert.True(t, p.IsConfigured())
}

func TestSearch_CollapsesConcurrentMisses(t *testing.T) {
	store, _ := setupStore(t)
	var calls int32
	release := make(chan struct{})
	p := Wrap(countingProvider(&calls, release), store)

	var wg sync.WaitGroup
	results := make([][]domain.Source, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = p.Search(context.Background(), "churn", 10)
		}(i)
	}

	// give every caller time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		require.Len(t, r, 1)
		assert.Equal(t, "churn", r[0].Title)
	}
}

func TestSearch_ErrorsAreNotCached(t *testing.T) {
	store, _ := setupStore(t)
	var calls int32
	p := Wrap(broker.ProviderFunc{
		ProviderName: "flaky",
		Type:         domain.SourceTypeAPI,
		Fn: func(ctx context.Context, query string, limit int) ([]domain.Source, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, errors.New("upstream down")
			}
			return []domain.Source{{Title: "ok"}}, nil
		},
	}, store)

	_, err := p.Search(context.Background(), "q", 5)
	require.Error(t, err)

	sources, err := p.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, sources, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSearch_RedisDownFallsThrough(t *testing.T) {
	store, mr := setupStore(t)
	var calls int32
	p := Wrap(countingProvider(&calls, nil), store)
	mr.Close()

	sources, err := p.Search(context.Background(), "pipeline", 10)
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	_, err = p.Search(context.Background(), "pipeline", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSearch_ShortDeadlineCallerDoesNotFailSharedCall(t *testing.T) {
	store, _ := setupStore(t)
	var calls int32
	started := make(chan struct{})
	p := Wrap(broker.ProviderFunc{
		ProviderName: "slow-kb",
		Type:         domain.SourceTypeInternal,
		Fn: func(ctx context.Context, query string, limit int) ([]domain.Source, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(started)
			}
			select {
			case <-time.After(200 * time.Millisecond):
				return []domain.Source{{Title: query, RelevanceScore: 0.5}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}, store)

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	shortErr := make(chan error, 1)
	go func() {
		_, err := p.Search(shortCtx, "forecast", 5)
		shortErr <- err
	}()
	<-started

	sources, err := p.Search(context.Background(), "forecast", 5)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "forecast", sources[0].Title)

	assert.ErrorIs(t, <-shortErr, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// the result was stored even though the first caller gave up
	cached, ok, err := store.Get(context.Background(), "slow-kb", "forecast", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestSearch_FlightTimeoutBoundsDetachedCall(t *testing.T) {
	store, _ := setupStore(t)
	p := Wrap(broker.ProviderFunc{
		ProviderName: "stuck",
		Type:         domain.SourceTypeInternal,
		Fn: func(ctx context.Context, query string, limit int) ([]domain.Source, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}, store).WithFlightTimeout(30 * time.Millisecond)

	_, err := p.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_PanicInSharedCallBecomesError(t *testing.T) {
	store, _ := setupStore(t)
	p := Wrap(broker.ProviderFunc{
		ProviderName: "buggy",
		Type:         domain.SourceTypeInternal,
		Fn: func(ctx context.Context, query string, limit int) ([]domain.Source, error) {
			var sources []domain.Source
			return sources[:1], nil
		},
	}, store)

	_, err := p.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
