// Package rediscache is a Redis-backed audit dedup cache shared between bot
// replicas. Entries expire after a TTL, which bounds the cache's growth.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/mod-tender/audit"
)

const (
	// DefaultPrefix namespaces cache keys.
	DefaultPrefix = "modtender:audit"
	// DefaultTTL keeps entries far longer than any audit max age.
	DefaultTTL = 24 * time.Hour
)

// ErrUnavailable wraps Redis failures.
var ErrUnavailable = errors.New("rediscache: unavailable")

// Cache implements audit.Cache on Redis.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ audit.Cache = (*Cache)(nil)

// New returns a Cache. A non-positive ttl uses DefaultTTL and an empty prefix
// uses DefaultPrefix.
func New(client redis.UniversalClient, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{redis: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) key(k audit.CacheKey) string {
	return c.prefix + ":" + k.Path()
}

func (c *Cache) Last(ctx context.Context, k audit.CacheKey) (time.Time, bool, error) {
	nanos, err := c.redis.Get(ctx, c.key(k)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (c *Cache) Store(ctx context.Context, k audit.CacheKey, createdAt time.Time) error {
	if err := c.redis.Set(ctx, c.key(k), createdAt.UnixNano(), c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks connectivity, used by readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
