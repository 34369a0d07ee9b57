package markets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for the market table cache.
var (
	tableCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lighter_market_cache_hits_total",
		Help: "Market table loads served from the Redis cache",
	})

	tableCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lighter_market_cache_misses_total",
		Help: "Market table cache misses",
	})

	tableCacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_market_cache_errors_total",
		Help: "Market table cache operation errors",
	}, []string{"operation"})
)

// ErrCacheMiss indicates no cached table is available.
var ErrCacheMiss = errors.New("cache miss")

// tableCacheKey is the Redis key holding the serialized market table.
const tableCacheKey = "lighter:markets:table"

// TableCache stores the market-id to symbol table in Redis so restarts and
// sibling instances within the refresh window skip the upstream call.
type TableCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewTableCache creates a table cache with the given entry TTL.
func NewTableCache(redisClient *redis.Client, ttl time.Duration) *TableCache {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &TableCache{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get retrieves the cached table. Returns ErrCacheMiss when absent.
func (c *TableCache) Get(ctx context.Context) (map[int64]string, error) {
	data, err := c.redis.Get(ctx, tableCacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			tableCacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		tableCacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var table map[int64]string
	if err := json.Unmarshal(data, &table); err != nil {
		tableCacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("unmarshal cached table: %w", err)
	}

	tableCacheHits.Inc()
	return table, nil
}

// Set stores the table with the configured TTL.
func (c *TableCache) Set(ctx context.Context, table map[int64]string) error {
	data, err := json.Marshal(table)
	if err != nil {
		tableCacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal table: %w", err)
	}

	if err := c.redis.Set(ctx, tableCacheKey, data, c.ttl).Err(); err != nil {
		tableCacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}
