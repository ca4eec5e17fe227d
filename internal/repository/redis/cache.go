package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	sourceCachePrefix = "sources:"
	defaultSourceTTL  = 5 * time.Minute
)

// SourceCache stores provider results keyed by provider, limit and normalized query
type SourceCache struct {
	client *Client
	ttl    time.Duration
}

// NewSourceCache creates a new source cache
func NewSourceCache(client *Client, ttl time.Duration) *SourceCache {
	if ttl <= 0 {
		ttl = defaultSourceTTL
	}
	return &SourceCache{client: client, ttl: ttl}
}

// Key returns the cache key for a provider query
func (c *SourceCache) Key(provider, query string, limit int) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(strings.Fields(query), " "))))
	return fmt.Sprintf("%s%s:%d:%s", sourceCachePrefix, provider, limit, hex.EncodeToString(sum[:16]))
}

// Get retrieves cached sources. A miss returns ok == false and no error.
func (c *SourceCache) Get(ctx context.Context, provider, query string, limit int) ([]domain.Source, bool, error) {
	data, err := c.client.rdb.Get(ctx, c.Key(provider, query, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}

	var sources []domain.Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal sources: %w", err)
	}
	return sources, true, nil
}

// Set caches sources for a provider query
func (c *SourceCache) Set(ctx context.Context, provider, query string, limit int, sources []domain.Source) error {
	if sources == nil {
		sources = []domain.Source{}
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	return c.client.rdb.Set(ctx, c.Key(provider, query, limit), data, c.ttl).Err()
}

// Invalidate removes every cached result of one provider
func (c *SourceCache) Invalidate(ctx context.Context, provider string) (int64, error) {
	pattern := sourceCachePrefix + provider + ":*"
	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			count, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += count
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}
