package query

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"PredictionLedger/internal/observability"
)

// Cache is a Redis read-through cache for hot query endpoints. Entries
// carry a short TTL; staleness is bounded by the TTL and surfaced to
// clients through as_of_sequence. A nil *Cache disables caching, so the
// query service works without Redis.
type Cache struct {
	rdb     *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewCache(rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, metrics: metrics}
}

// Get loads a cached value into dest. Returns false on miss or any Redis
// error; cache failures must never fail the read path.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if c == nil {
		return false
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.recordLookup(key, "miss")
		return false
	}
	if err != nil {
		log.Printf("WARN: cache get %s: %v", key, err)
		c.recordLookup(key, "error")
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		log.Printf("WARN: cache decode %s: %v", key, err)
		c.recordLookup(key, "error")
		return false
	}
	c.recordLookup(key, "hit")
	return true
}

// recordLookup counts a cache lookup under the key's endpoint segment,
// e.g. "pred:event:7" counts against "event".
func (c *Cache) recordLookup(key, result string) {
	if c.metrics == nil {
		return
	}
	endpoint := key
	if parts := strings.SplitN(key, ":", 3); len(parts) >= 2 {
		endpoint = parts[1]
	}
	c.metrics.QueryCacheHits.WithLabelValues(endpoint, result).Inc()
}

// Set stores a value with the configured TTL. Failures are logged and
// swallowed.
func (c *Cache) Set(ctx context.Context, key string, v interface{}) {
	if c == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: cache encode %s: %v", key, err)
		return
	}

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("WARN: cache set %s: %v", key, err)
	}
}

// Invalidate drops cached keys, used when a writer knows a projection
// changed ahead of TTL expiry.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("WARN: cache invalidate: %v", err)
	}
}

// ConnectRedis creates a Redis client and verifies connectivity.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
