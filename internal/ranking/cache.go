package ranking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"llm_router/internal/metrics"
	"llm_router/internal/models"
	"llm_router/internal/pricing"
)

// Store reads persisted benchmark output.
type Store interface {
	ListRankings(ctx context.Context, suite string) ([]models.RankingEntry, error)
	RecentLatencies(ctx context.Context, suite string) ([]models.LatencySample, error)
}

type cacheKey struct {
	suite    string
	strategy Strategy
}

type cacheEntry struct {
	entries  []models.RankingEntry
	storedAt time.Time
}

// Cache memoizes ranked model lists per (suite, strategy). Stored slices are
// never mutated; readers get copies.
type Cache struct {
	store   Store
	prices  *pricing.Table
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry

	// gens counts invalidations per suite and epoch counts full flushes. A
	// computation started before either moved is not stored.
	gens  map[string]uint64
	epoch uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics counts hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// NewCache creates a ranking cache over store.
func NewCache(store Store, prices *pricing.Table, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		prices:  prices,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  zap.NewNop(),
		entries: make(map[cacheKey]cacheEntry),
		gens:    make(map[string]uint64),
	}
	if c.prices == nil {
		c.prices = pricing.Default()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRankings returns the ranked entries of suite ordered by strategy.
func (c *Cache) GetRankings(ctx context.Context, suite string, strategy Strategy) ([]models.RankingEntry, error) {
	key := cacheKey{suite: suite, strategy: strategy}

	c.mu.RLock()
	cached, ok := c.entries[key]
	gen := c.generation(suite)
	c.mu.RUnlock()
	if ok && c.now().Sub(cached.storedAt) < c.ttl {
		c.metrics.CacheLookup(true)
		return clone(cached.entries), nil
	}
	c.metrics.CacheLookup(false)

	entries, err := c.compute(ctx, suite, strategy)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	stored := c.generation(suite) == gen
	if stored {
		c.entries[key] = cacheEntry{entries: entries, storedAt: c.now()}
	}
	c.mu.Unlock()

	c.logger.Debug("rankings computed",
		zap.String("suite", suite),
		zap.String("strategy", string(strategy)),
		zap.Int("entries", len(entries)),
		zap.Bool("stored", stored))
	return clone(entries), nil
}

// generation must be called with mu held.
func (c *Cache) generation(suite string) uint64 {
	return c.epoch + c.gens[suite]
}

func (c *Cache) compute(ctx context.Context, suite string, strategy Strategy) ([]models.RankingEntry, error) {
	rows, err := c.store.ListRankings(ctx, suite)
	if err != nil {
		return nil, fmt.Errorf("failed to load rankings for %s: %w", suite, err)
	}

	entries := latestPerModel(rows)
	for i := range entries {
		entries[i].EstimatedCostPerKToken = c.prices.CostPerKToken(entries[i].Provider, entries[i].ModelName)
	}

	if strategy.NeedsLatency() {
		samples, err := c.store.RecentLatencies(ctx, suite)
		if err != nil {
			return nil, fmt.Errorf("failed to load latencies for %s: %w", suite, err)
		}
		latency := make(map[string]int64, len(samples))
		for _, s := range samples {
			latency[s.Provider+"/"+s.ModelName] = int64(s.AvgLatencyMs + 0.5)
		}
		for i := range entries {
			if ms, ok := latency[entries[i].Key()]; ok {
				entries[i].EstimatedLatencyMs = ms
			}
		}
	}

	strategy.Sort(entries)
	return entries, nil
}

// latestPerModel keeps the newest row of each provider/model pair.
func latestPerModel(rows []models.RankingEntry) []models.RankingEntry {
	latest := make(map[string]int, len(rows))
	out := make([]models.RankingEntry, 0, len(rows))
	for _, r := range rows {
		i, seen := latest[r.Key()]
		if !seen {
			latest[r.Key()] = len(out)
			out = append(out, r)
			continue
		}
		if r.LastUpdated.After(out[i].LastUpdated) || (r.LastUpdated.Equal(out[i].LastUpdated) && r.ID > out[i].ID) {
			out[i] = r
		}
	}
	return out
}

// Invalidate drops every strategy of suite. An empty suite drops everything.
func (c *Cache) Invalidate(suite string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if suite == "" {
		c.epoch++
		c.entries = make(map[cacheKey]cacheEntry)
		return
	}
	c.gens[suite]++
	for k := range c.entries {
		if k.suite == suite {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of memoized (suite, strategy) pairs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func clone(entries []models.RankingEntry) []models.RankingEntry {
	out := make([]models.RankingEntry, len(entries))
	copy(out, entries)
	for i := range out {
		if out[i].Metrics != nil {
			m := make(models.Metrics, len(out[i].Metrics))
			for k, v := range out[i].Metrics {
				m[k] = v
			}
			out[i].Metrics = m
		}
	}
	return out
}
