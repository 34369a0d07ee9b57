// Package markets resolves Lighter market IDs to symbols. The table is
// fetched in bulk from the reference-data endpoint, kept as an immutable
// snapshot behind an atomic pointer, and replaced wholesale on refresh so
// concurrent readers never observe a torn table.
package markets

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for market resolution.
var (
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_market_refreshes_total",
		Help: "Market table refreshes by result",
	}, []string{"result"})

	unknownMarketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lighter_market_unknown_total",
		Help: "Lookups of market IDs absent from the table",
	})
)

// DefaultRefreshInterval is how long a table snapshot stays fresh.
const DefaultRefreshInterval = time.Hour

// Source provides the full market-id to symbol table.
type Source interface {
	OrderBookDetails(ctx context.Context) (map[int64]string, error)
}

// snapshot is one immutable generation of the table.
type snapshot struct {
	table     map[int64]string
	fetchedAt time.Time
}

// Resolver maps market IDs to symbols, never failing an enclosing
// enrichment: unknown IDs fall back to a formatted placeholder.
type Resolver struct {
	source       Source
	cache        *TableCache // optional, nil disables the Redis layer
	refreshEvery time.Duration
	logger       zerolog.Logger

	current atomic.Pointer[snapshot]

	// refreshMu single-flights refreshes; readers never take it.
	refreshMu sync.Mutex
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTableCache enables the Redis-backed table cache.
func WithTableCache(cache *TableCache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithRefreshInterval overrides the snapshot freshness window.
func WithRefreshInterval(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.refreshEvery = d
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over the given table source.
func NewResolver(source Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:       source,
		refreshEvery: DefaultRefreshInterval,
		logger:       log.With().Str("component", "markets").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the symbol for a market ID, or the placeholder "ID:<n>"
// when the ID is unknown or no table could be loaded. It never fails.
func (r *Resolver) Resolve(ctx context.Context, marketID int64) string {
	snap := r.fresh(ctx)
	if snap != nil {
		if symbol, ok := snap.table[marketID]; ok {
			return symbol
		}
	}

	unknownMarketsTotal.Inc()
	r.logger.Warn().
		Int64("market_id", marketID).
		Msg("Unknown market ID, using placeholder")
	return fmt.Sprintf("ID:%d", marketID)
}

// Refresh reloads the table and atomically swaps the snapshot. A failed
// refresh keeps the previous snapshot, stale or not.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	// A concurrent caller may have refreshed while we waited for the lock.
	if snap := r.current.Load(); snap != nil && time.Since(snap.fetchedAt) < r.refreshEvery {
		return nil
	}

	table, fromCache, err := r.load(ctx)
	if err != nil {
		refreshesTotal.WithLabelValues("error").Inc()
		r.logger.Warn().Err(err).Msg("Market table refresh failed, keeping previous snapshot")
		return fmt.Errorf("refresh market table: %w", err)
	}

	r.current.Store(&snapshot{
		table:     table,
		fetchedAt: time.Now(),
	})

	result := "ok"
	if fromCache {
		result = "cache_hit"
	}
	refreshesTotal.WithLabelValues(result).Inc()

	r.logger.Info().
		Int("markets", len(table)).
		Bool("from_cache", fromCache).
		Msg("Market table refreshed")
	return nil
}

// load fetches the table from the cache when possible, falling back to the
// upstream source and writing through.
func (r *Resolver) load(ctx context.Context) (map[int64]string, bool, error) {
	if r.cache != nil {
		table, err := r.cache.Get(ctx)
		if err == nil {
			return table, true, nil
		}
		if err != ErrCacheMiss {
			r.logger.Warn().Err(err).Msg("Table cache get failed, falling back to upstream")
		}
	}

	table, err := r.source.OrderBookDetails(ctx)
	if err != nil {
		return nil, false, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, table); err != nil {
			r.logger.Warn().Err(err).Msg("Table cache set failed")
		}
	}

	return table, false, nil
}

// fresh returns the current snapshot, refreshing it first when missing or
// older than the refresh interval. On refresh failure the stale snapshot
// (possibly nil on first use) is returned.
func (r *Resolver) fresh(ctx context.Context) *snapshot {
	snap := r.current.Load()
	if snap != nil && time.Since(snap.fetchedAt) < r.refreshEvery {
		return snap
	}

	_ = r.Refresh(ctx)
	return r.current.Load()
}

// Run refreshes the table on the configured interval until ctx is done.
// Intended to be started as a goroutine by the host process; lazy refresh in
// Resolve covers callers that skip it.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}

// Table returns a copy of the current table, for diagnostics.
func (r *Resolver) Table(ctx context.Context) map[int64]string {
	snap := r.fresh(ctx)
	if snap == nil {
		return map[int64]string{}
	}

	out := make(map[int64]string, len(snap.table))
	for id, symbol := range snap.table {
		out[id] = symbol
	}
	return out
}
