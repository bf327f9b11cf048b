package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/qa-agent/logexplain/pkg/metrics"
	"github.com/qa-agent/logexplain/pkg/models"
)

type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	putErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Put(_ context.Context, key string, payload []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.data[key] = payload
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func (s *memStore) Len(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.data)), nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[StorageKey(key)]
	return ok
}

func (s *memStore) raw(key string, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[StorageKey(key)] = []byte(payload)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T, store Store, opts ...Option) (*Cache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(store, append([]Option{WithClock(clk.now)}, opts...)...)
	require.NoError(t, err)
	return c, clk
}

func explanation(content string) models.Explanation {
	return models.Explanation{
		Content: content,
		TokenUsage: &models.TokenUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
			Model:            "gemini-1.5-flash",
		},
		ProcessingTime: 250 * time.Millisecond,
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestSetThenGet(t *testing.T) {
	c, _ := newTestCache(t, newMemStore())
	ctx := context.Background()

	c.Set(ctx, "log_abc", explanation("A null pointer was dereferenced."), time.Hour)

	got, ok := c.Get(ctx, "log_abc")
	require.True(t, ok)
	assert.Equal(t, "A null pointer was dereferenced.", got.Content)
	require.NotNil(t, got.TokenUsage)
	assert.Equal(t, 30, got.TokenUsage.TotalTokens)
}

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestCache(t, newMemStore())
	_, ok := c.Get(context.Background(), "never-set")
	assert.False(t, ok)
}

func TestEntryExpires(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCache(t, store)
	ctx := context.Background()

	c.Set(ctx, "k", explanation("text"), time.Second)
	clk.advance(999 * time.Millisecond)
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	clk.advance(time.Millisecond)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, store.has("k"), "expired persistent entry should be deleted")
}

func TestDefaultTTLApplied(t *testing.T) {
	c, clk := newTestCache(t, newMemStore(), WithDefaultTTL(time.Minute))
	ctx := context.Background()

	c.Set(ctx, "k", explanation("text"), 0)
	clk.advance(59 * time.Second)
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	clk.advance(2 * time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestEmptyContentIsAbsent(t *testing.T) {
	c, _ := newTestCache(t, newMemStore())
	ctx := context.Background()

	c.Set(ctx, "k", models.Explanation{Content: ""}, time.Hour)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k2", models.Explanation{Content: "   \n"}, time.Hour)
	_, ok = c.Get(ctx, "k2")
	assert.False(t, ok)
}

func TestPersistentTierPromotesToMemory(t *testing.T) {
	store := newMemStore()
	reg := metrics.NewRecorder(nil)
	first, clk := newTestCache(t, store)
	ctx := context.Background()
	first.Set(ctx, "k", explanation("persisted"), time.Hour)

	// a second process sharing the store starts with a cold memory tier
	second, err := New(store, WithClock(clk.now), WithMetrics(reg))
	require.NoError(t, err)

	got, ok := second.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "persisted", got.Content)

	_, ok = second.Get(ctx, "k")
	require.True(t, ok)

	expected := `
# HELP logexplain_cache_lookups_total Fingerprint cache lookups by outcome.
# TYPE logexplain_cache_lookups_total counter
logexplain_cache_lookups_total{outcome="hit_memory"} 1
logexplain_cache_lookups_total{outcome="hit_persistent"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "logexplain_cache_lookups_total"))
}

func TestCorruptedEntryIsDeleted(t *testing.T) {
	cases := map[string]string{
		"not json":          `{{{`,
		"missing expiry":    `{"key":"k","value":{"content":"x"}}`,
		"missing content":   `{"key":"k","value":{"processingTime":1},"expiry":9999999999999}`,
		"content not text":  `{"key":"k","value":{"content":42},"expiry":9999999999999}`,
		"usage wrong shape": `{"key":"k","value":{"content":"x","tokenUsage":{"promptTokens":"1","completionTokens":2,"totalTokens":3,"model":"m"}},"expiry":9999999999999}`,
		"usage no model":    `{"key":"k","value":{"content":"x","tokenUsage":{"promptTokens":1,"completionTokens":2,"totalTokens":3}},"expiry":9999999999999}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			core, logs := observer.New(zap.WarnLevel)
			c, _ := newTestCache(t, store, WithLogger(zap.New(core)))
			store.raw("k", payload)

			_, ok := c.Get(context.Background(), "k")
			assert.False(t, ok)
			assert.False(t, store.has("k"))
			assert.Equal(t, 1, logs.FilterMessage("discarding corrupted cache entry").Len())
		})
	}
}

func TestNullTokenUsageAccepted(t *testing.T) {
	store := newMemStore()
	c, _ := newTestCache(t, store)
	store.raw("k", `{"key":"k","value":{"content":"ok","tokenUsage":null},"expiry":9999999999999}`)

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Nil(t, got.TokenUsage)
}

func TestStorageKeyCollisionIsMiss(t *testing.T) {
	store := newMemStore()
	c, _ := newTestCache(t, store)
	store.raw("k", `{"key":"other","value":{"content":"ok"},"expiry":9999999999999}`)

	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.True(t, store.has("k"), "entry owned by another key must survive")
}

func TestPersistentWriteFailureKeepsMemory(t *testing.T) {
	store := newMemStore()
	store.putErr = errors.New("disk full")
	core, logs := observer.New(zap.WarnLevel)
	c, _ := newTestCache(t, store, WithLogger(zap.New(core)))
	ctx := context.Background()

	c.Set(ctx, "k", explanation("in memory only"), time.Hour)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "in memory only", got.Content)
	assert.Equal(t, 1, logs.FilterMessage("cache write failed").Len())
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newMemStore()
	c, _ := newTestCache(t, store)
	ctx := context.Background()

	c.Set(ctx, "k", explanation("x"), time.Hour)
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "never-existed"))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestClearAndStats(t *testing.T) {
	store := newMemStore()
	c, _ := newTestCache(t, store)
	ctx := context.Background()

	c.Set(ctx, "a", explanation("a"), time.Hour)
	c.Set(ctx, "b", explanation("b"), time.Hour)
	c.Get(ctx, "a")
	c.Get(ctx, "missing")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CacheStats{MemoryEntries: 2, PersistentEntries: 2, Hits: 1, Misses: 1}, stats)

	require.NoError(t, c.Clear(ctx))
	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.MemoryEntries)
	assert.Zero(t, stats.PersistentEntries)
}

type purgingStore struct {
	*memStore
	purgedAt time.Time
}

func (p *purgingStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	p.purgedAt = now
	return 3, nil
}

func TestPurge(t *testing.T) {
	ps := &purgingStore{memStore: newMemStore()}
	c, clk := newTestCache(t, ps)
	ctx := context.Background()

	c.Set(ctx, "short", explanation("x"), time.Second)
	c.Set(ctx, "long", explanation("y"), time.Hour)
	clk.advance(time.Minute)

	n, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, clk.now(), ps.purgedAt)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.MemoryEntries)
}

func TestPurgeWithoutPurger(t *testing.T) {
	c, _ := newTestCache(t, newMemStore())
	n, err := c.Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, newMemStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Set(ctx, "shared", explanation("v"), time.Hour)
				if got, ok := c.Get(ctx, "shared"); ok {
					assert.Equal(t, "v", got.Content)
				}
			}
		}()
	}
	wg.Wait()
}
