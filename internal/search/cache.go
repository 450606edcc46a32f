package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-search/meridian/pkg/redis"
)

// Cache is the optional Redis-backed query result cache. Keys include the
// snapshot version, so a write to the index naturally invalidates every
// cached query against it; entries also carry a TTL so stale versions age
// out of Redis on their own.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	log    *slog.Logger
}

// NewCache wraps a Redis client as a query cache.
func NewCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, log: log.With("component", "query_cache")}
}

func cacheKey(indexName string, version uint64, params *Params) string {
	sum := sha256.Sum256([]byte(params.Encode()))
	return fmt.Sprintf("meridian:query:%s:%d:%s", indexName, version, hex.EncodeToString(sum[:16]))
}

// Get fetches a cached result. A Redis failure reports a miss; the cache
// never makes a query fail.
func (c *Cache) Get(ctx context.Context, indexName string, version uint64, params *Params) (*Result, bool) {
	key := cacheKey(indexName, version, params)
	v, err, _ := c.group.Do("get:"+key, func() (any, error) {
		data, err := c.client.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		var result Result
		if err := json.Unmarshal([]byte(data), &result); err != nil {
			return nil, err
		}
		return &result, nil
	})
	if err != nil {
		if !redis.IsNilError(err) {
			c.log.Debug("cache read failed", "error", err)
		}
		return nil, false
	}
	return v.(*Result), true
}

// Set stores a result. Failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, indexName string, version uint64, params *Params, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	key := cacheKey(indexName, version, params)
	if err := c.client.Set(ctx, key, string(data), c.ttl); err != nil {
		c.log.Debug("cache write failed", "error", err)
	}
}

// Invalidate drops every cached query of an index, used when the index is
// deleted rather than merely updated.
func (c *Cache) Invalidate(ctx context.Context, indexName string) {
	if _, err := c.client.FlushByPattern(ctx, fmt.Sprintf("meridian:query:%s:*", indexName)); err != nil {
		c.log.Debug("cache invalidation failed", "index", indexName, "error", err)
	}
}
