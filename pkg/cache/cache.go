package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qa-agent/logexplain/pkg/metrics"
	"github.com/qa-agent/logexplain/pkg/models"
	"go.uber.org/zap"
)

// Store is the persistent tier. Keys passed to a Store are already
// sanitized by StorageKey. Deleting an absent key must succeed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte, expiry time.Time) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int64, error)
	Close() error
}

// Purger is implemented by stores that can drop expired entries in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type memEntry struct {
	value  models.Explanation
	expiry time.Time
}

// Cache is a two-tier fingerprint cache: an in-process map in front of a
// persistent Store. It is safe for concurrent use.
type Cache struct {
	store      Store
	defaultTTL time.Duration
	now        func() time.Time
	log        *zap.Logger
	metrics    *metrics.Recorder

	mu  sync.RWMutex
	mem map[string]memEntry

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for best-effort tier failures.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Cache) { c.metrics = r }
}

// WithDefaultTTL sets the TTL applied when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = ttl }
}

// New creates a Cache backed by store. The store must already be
// initialized; a nil store is rejected rather than degrading to memory only.
func New(store Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("cache: persistent store required")
	}
	c := &Cache{
		store:      store,
		defaultTTL: time.Hour,
		now:        time.Now,
		log:        zap.NewNop(),
		mem:        make(map[string]memEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached explanation for key. Expired, invalid and corrupted
// entries are misses and are removed from the tier that held them.
func (c *Cache) Get(ctx context.Context, key string) (models.Explanation, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		if e.expiry.After(now) && valid(e.value) {
			c.hit(metrics.CacheHitMemory)
			return e.value, true
		}
		c.evictMemory(key, e.expiry)
	}

	skey := StorageKey(key)
	payload, found, err := c.store.Get(ctx, skey)
	if err != nil {
		c.log.Warn("cache read failed", zap.String("key", skey), zap.Error(err))
		c.miss(metrics.CacheMiss)
		return models.Explanation{}, false
	}
	if !found {
		c.miss(metrics.CacheMiss)
		return models.Explanation{}, false
	}

	rec, value, err := decodeRecord(payload, now)
	switch {
	case errors.Is(err, errExpired):
		c.deletePersistent(ctx, skey)
		c.miss(metrics.CacheMiss)
		return models.Explanation{}, false
	case err != nil:
		c.log.Warn("discarding corrupted cache entry", zap.String("key", skey), zap.Error(err))
		c.deletePersistent(ctx, skey)
		c.miss(metrics.CacheCorrupt)
		return models.Explanation{}, false
	case rec.Key != key:
		// distinct logical key sharing a storage name; leave it alone
		c.miss(metrics.CacheMiss)
		return models.Explanation{}, false
	}

	c.mu.Lock()
	c.mem[key] = memEntry{value: value, expiry: time.UnixMilli(rec.Expiry)}
	c.mu.Unlock()

	c.hit(metrics.CacheHitPersistent)
	return value, true
}

// Set stores value under key in both tiers. A failed persistent write is
// logged and otherwise ignored; the memory tier is never rolled back.
func (c *Cache) Set(ctx context.Context, key string, value models.Explanation, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expiry := c.now().Add(ttl)
	// persisted expiry has millisecond resolution; keep both tiers in step
	expiry = time.UnixMilli(expiry.UnixMilli())

	c.mu.Lock()
	c.mem[key] = memEntry{value: value, expiry: expiry}
	c.mu.Unlock()

	skey := StorageKey(key)
	payload, err := encodeRecord(key, value, expiry)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("key", skey), zap.Error(err))
		return
	}
	if err := c.store.Put(ctx, skey, payload, expiry); err != nil {
		c.log.Warn("cache write failed", zap.String("key", skey), zap.Error(err))
	}
}

// Delete removes key from both tiers. Deleting an absent key succeeds.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
	if err := c.store.Delete(ctx, StorageKey(key)); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Clear removes every entry from both tiers.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.mem = make(map[string]memEntry)
	c.mu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Purge drops expired entries from both tiers and returns how many persisted
// entries were removed. Stores without bulk expiry support report zero.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.mem {
		if !e.expiry.After(now) {
			delete(c.mem, k)
		}
	}
	c.mu.Unlock()

	p, ok := c.store.(Purger)
	if !ok {
		return 0, nil
	}
	n, err := p.PurgeExpired(ctx, now)
	if err != nil {
		return n, fmt.Errorf("cache purge: %w", err)
	}
	return n, nil
}

// Stats returns tier sizes and hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	n, err := c.store.Len(ctx)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	c.mu.RLock()
	mem := int64(len(c.mem))
	c.mu.RUnlock()
	return models.CacheStats{
		MemoryEntries:     mem,
		PersistentEntries: n,
		Hits:              c.hits.Load(),
		Misses:            c.misses.Load(),
	}, nil
}

// Close releases the persistent store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) evictMemory(key string, seen time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.mem[key]; ok && cur.expiry.Equal(seen) {
		delete(c.mem, key)
	}
}

func (c *Cache) deletePersistent(ctx context.Context, skey string) {
	if err := c.store.Delete(ctx, skey); err != nil {
		c.log.Warn("cache delete failed", zap.String("key", skey), zap.Error(err))
	}
}

func (c *Cache) hit(outcome metrics.CacheOutcome) {
	c.hits.Add(1)
	c.metrics.ObserveCacheLookup(outcome)
}

func (c *Cache) miss(outcome metrics.CacheOutcome) {
	c.misses.Add(1)
	c.metrics.ObserveCacheLookup(outcome)
}
