package ranking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_router/internal/metrics"
	"llm_router/internal/models"
	"llm_router/internal/pricing"
)

type fakeStore struct {
	mu           sync.Mutex
	rows         map[string][]models.RankingEntry
	latencies    []models.LatencySample
	listCalls    int
	latencyCalls int
	err          error
}

func (s *fakeStore) ListRankings(_ context.Context, suite string) ([]models.RankingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.RankingEntry(nil), s.rows[suite]...), nil
}

func (s *fakeStore) RecentLatencies(_ context.Context, _ string) ([]models.LatencySample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencyCalls++
	return s.latencies, nil
}

const testPrices = `
default_per_k_token: 0.01
providers:
  groq:
    input_per_k: 0.0002
    output_per_k: 0.0002
models:
  model-a:
    input_per_k: 0.002
    output_per_k: 0.004
  model-b:
    input_per_k: 0.0005
    output_per_k: 0.0015
`

func testTable(t *testing.T) *pricing.Table {
	t.Helper()
	table, err := pricing.Parse([]byte(testPrices))
	require.NoError(t, err)
	return table
}

func newStore() *fakeStore {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return &fakeStore{rows: map[string][]models.RankingEntry{
		models.SuiteGeneral: {
			{ID: 3, Suite: "general", Provider: "openai", ModelName: "model-a", Score: 0.9, EstimatedLatencyMs: 900, LastUpdated: now},
			{ID: 2, Suite: "general", Provider: "anthropic", ModelName: "model-b", Score: 0.7, EstimatedLatencyMs: 400, LastUpdated: now},
			// older duplicate of model-a is ignored
			{ID: 1, Suite: "general", Provider: "openai", ModelName: "model-a", Score: 0.1, EstimatedLatencyMs: 50, LastUpdated: now.Add(-time.Hour)},
			{ID: 4, Suite: "general", Provider: "groq", ModelName: "model-c", Score: 0.5, LastUpdated: now.Add(-time.Minute)},
		},
	}}
}

func TestCache_Cheapest(t *testing.T) {
	store := newStore()
	c := NewCache(store, testTable(t))

	got, err := c.GetRankings(context.Background(), models.SuiteGeneral, StrategyCheapest)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"groq/model-c", "anthropic/model-b", "openai/model-a"}, keys(got))
	assert.Equal(t, []int{1, 2, 3}, ranks(got))
	assert.InDelta(t, 0.0002, got[0].EstimatedCostPerKToken, 1e-12)
	assert.InDelta(t, 0.001, got[1].EstimatedCostPerKToken, 1e-12)
	assert.InDelta(t, 0.003, got[2].EstimatedCostPerKToken, 1e-12)
	assert.Equal(t, 0, store.latencyCalls, "cheapest must not read latency samples")
}

func TestCache_FastestUsesLiveLatency(t *testing.T) {
	store := newStore()
	store.latencies = []models.LatencySample{
		{Provider: "openai", ModelName: "model-a", AvgLatencyMs: 120.4},
	}
	c := NewCache(store, testTable(t))

	got, err := c.GetRankings(context.Background(), models.SuiteGeneral, StrategyFastest)
	require.NoError(t, err)

	assert.Equal(t, 1, store.latencyCalls)
	assert.Equal(t, "openai/model-a", got[0].Key())
	assert.Equal(t, int64(120), got[0].EstimatedLatencyMs)
	// no sample: keeps the persisted estimate
	assert.Equal(t, int64(400), got[1].EstimatedLatencyMs)
	assert.Equal(t, "groq/model-c", got[2].Key())
}

func TestCache_TTLAndInvalidate(t *testing.T) {
	store := newStore()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	c := NewCache(store, testTable(t), WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := c.GetRankings(ctx, models.SuiteGeneral, StrategyBalanced)
	require.NoError(t, err)
	_, err = c.GetRankings(ctx, models.SuiteGeneral, StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls, "second read is a hit")

	now = now.Add(2 * time.Minute)
	_, err = c.GetRankings(ctx, models.SuiteGeneral, StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls, "expired entry is recomputed")

	_, err = c.GetRankings(ctx, models.SuiteGeneral, StrategyCheapest)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	// fresh data must be visible right after invalidation
	store.mu.Lock()
	store.rows[models.SuiteGeneral] = store.rows[models.SuiteGeneral][:1]
	store.mu.Unlock()

	c.Invalidate(models.SuiteGeneral)
	assert.Equal(t, 0, c.Len())

	got, err := c.GetRankings(ctx, models.SuiteGeneral, StrategyBalanced)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	c.Invalidate("")
	assert.Equal(t, 0, c.Len())
}

func TestCache_InvalidateOtherSuiteKeepsEntries(t *testing.T) {
	c := NewCache(newStore(), testTable(t))
	_, err := c.GetRankings(context.Background(), models.SuiteGeneral, StrategyBalanced)
	require.NoError(t, err)

	c.Invalidate(models.SuiteDeep)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := NewCache(newStore(), testTable(t))
	ctx := context.Background()

	first, err := c.GetRankings(ctx, models.SuiteGeneral, StrategyCheapest)
	require.NoError(t, err)
	first[0].ModelName = "mutated"

	second, err := c.GetRankings(ctx, models.SuiteGeneral, StrategyCheapest)
	require.NoError(t, err)
	assert.Equal(t, "model-c", second[0].ModelName)
}

func TestCache_StoreError(t *testing.T) {
	store := newStore()
	store.err = errors.New("db down")
	c := NewCache(store, testTable(t))

	_, err := c.GetRankings(context.Background(), models.SuiteGeneral, StrategyBalanced)
	assert.ErrorIs(t, err, store.err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	c := NewCache(newStore(), testTable(t), WithMetrics(m))
	ctx := context.Background()

	for range 3 {
		_, err := c.GetRankings(ctx, models.SuiteGeneral, StrategyBalanced)
		require.NoError(t, err)
	}

	count, err := testutil.GatherAndCount(reg, "llm_router_ranking_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "hit and miss series")
}

func TestCache_ConcurrentReaders(t *testing.T) {
	c := NewCache(newStore(), testTable(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				c.Invalidate(models.SuiteGeneral)
			}
			got, err := c.GetRankings(ctx, models.SuiteGeneral, StrategyCheapest)
			assert.NoError(t, err)
			assert.Len(t, got, 3)
		}(i)
	}
	wg.Wait()
}

// gatedStore blocks the first ListRankings call until release is closed.
type gatedStore struct {
	*fakeStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) ListRankings(ctx context.Context, suite string) ([]models.RankingEntry, error) {
	rows, err := s.fakeStore.ListRankings(ctx, suite)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return rows, err
}

func TestCache_InvalidateDuringComputeIsNotUndone(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store := &gatedStore{
		fakeStore: &fakeStore{rows: map[string][]models.RankingEntry{
			models.SuiteGeneral: {{ID: 1, Provider: "openai", ModelName: "old-model", Score: 0.5, LastUpdated: now}},
		}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := NewCache(store, testTable(t))
	ctx := context.Background()

	done := make(chan []models.RankingEntry)
	go func() {
		got, err := c.GetRankings(ctx, models.SuiteGeneral, StrategyBalanced)
		assert.NoError(t, err)
		done <- got
	}()

	<-store.entered
	store.mu.Lock()
	store.rows[models.SuiteGeneral] = []models.RankingEntry{
		{ID: 2, Provider: "openai", ModelName: "new-model", Score: 0.9, LastUpdated: now.Add(time.Minute)},
	}
	store.mu.Unlock()
	c.Invalidate(models.SuiteGeneral)
	close(store.release)

	first := <-done
	require.Len(t, first, 1)
	assert.Equal(t, "old-model", first[0].ModelName)
	assert.Equal(t, 0, c.Len(), "result computed before the invalidation must not be cached")

	got, err := c.GetRankings(ctx, models.SuiteGeneral, StrategyBalanced)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new-model", got[0].ModelName)
	assert.Equal(t, 2, store.listCalls)
}

func TestCache_FlushDuringComputeIsNotUndone(t *testing.T) {
	store := &gatedStore{
		fakeStore: newStore(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c := NewCache(store, testTable(t))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.GetRankings(context.Background(), models.SuiteGeneral, StrategyCheapest)
		assert.NoError(t, err)
	}()

	<-store.entered
	c.Invalidate("")
	close(store.release)
	<-done

	assert.Equal(t, 0, c.Len())
}
