package cache

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/codewandler/shardroute/core/metrics"
	"github.com/codewandler/shardroute/core/sf"
	"github.com/codewandler/shardroute/core/topology"
)

const (
	DefaultTTLSeconds   = 60
	DefaultFetchTimeout = 10 * time.Second
)

type Options struct {
	// TTLSeconds bounds how long a snapshot is served without revalidation.
	// Must be positive; zero selects DefaultTTLSeconds.
	TTLSeconds int
	// FetchTimeout bounds a single provider fetch, independent of the
	// deadlines of the callers waiting on it.
	FetchTimeout time.Duration
	Clock        clock.Clock
	Log          *slog.Logger
	Metrics      Metrics
}

// Metrics receives cache events. All methods must be safe for concurrent use.
type Metrics interface {
	CacheHit(collection string)
	CacheMiss(collection string)
	RefreshDuration(collection string) metrics.Timer
	RefreshCompleted(collection string, success bool)
	Invalidated(collection string)
}

type nopMetrics struct{}

func (nopMetrics) CacheHit(string)                      {}
func (nopMetrics) CacheMiss(string)                     {}
func (nopMetrics) RefreshDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) RefreshCompleted(string, bool)        {}
func (nopMetrics) Invalidated(string)                   {}

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

// entry is never mutated after it is published.
type entry struct {
	col       *topology.Collection
	fetchedAt time.Time
	deadline  time.Time
}

type snapshot map[string]*entry

// Cache serves collection snapshots from memory and refreshes them from a
// StateProvider once they expire.
type Cache struct {
	provider     topology.StateProvider
	ttl          time.Duration
	fetchTimeout time.Duration
	clock        clock.Clock
	log          *slog.Logger
	metrics      Metrics

	entries atomic.Pointer[snapshot]
	writeMu sync.Mutex
	// gens counts invalidations per collection, guarded by writeMu. A fetch
	// only installs its result if no invalidation happened while it ran.
	gens   map[string]uint64
	flight *sf.Singleflight[topology.Collection]
}

func New(provider topology.StateProvider, opts Options) (*Cache, error) {
	if provider == nil {
		return nil, fmt.Errorf("cache: provider is required")
	}
	if opts.TTLSeconds < 0 {
		return nil, fmt.Errorf("cache: TTLSeconds must be positive, got %d", opts.TTLSeconds)
	}
	if opts.TTLSeconds == 0 {
		opts.TTLSeconds = DefaultTTLSeconds
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}

	c := &Cache{
		provider:     provider,
		ttl:          time.Duration(opts.TTLSeconds) * time.Second,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		log:          opts.Log.With(slog.String("component", "state_cache")),
		metrics:      opts.Metrics,
		gens:         make(map[string]uint64),
		flight:       sf.New[topology.Collection](),
	}
	empty := snapshot{}
	c.entries.Store(&empty)
	return c, nil
}

// TTL returns the configured freshness bound.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns a snapshot of the collection that is no older than the TTL,
// fetching it from the provider when needed. Concurrent callers for the same
// expired collection share a single fetch.
func (c *Cache) Get(ctx context.Context, collection string) (*topology.Collection, error) {
	if e, ok := c.lookup(collection); ok && c.clock.Now().Before(e.deadline) {
		c.metrics.CacheHit(collection)
		return e.col, nil
	}
	c.metrics.CacheMiss(collection)
	return c.refresh(ctx, collection)
}

// Peek returns the cached snapshot regardless of its age, without fetching.
func (c *Cache) Peek(collection string) (*topology.Collection, bool) {
	e, ok := c.lookup(collection)
	if !ok {
		return nil, false
	}
	return e.col, true
}

// Invalidate drops the cached snapshot so the next Get fetches a fresh one.
// A fetch already in flight is detached: later callers do not join it and its
// result is not installed.
func (c *Cache) Invalidate(collection string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.gens[collection]++
	c.flight.Forget(collection)

	cur := *c.entries.Load()
	if _, ok := cur[collection]; !ok {
		return
	}
	next := make(snapshot, len(cur))
	for k, v := range cur {
		if k != collection {
			next[k] = v
		}
	}
	c.entries.Store(&next)
	c.metrics.Invalidated(collection)
	c.log.Debug("invalidated", slog.String("collection", collection))
}

// InvalidateIfOlder drops the cached snapshot when its version is below
// version. It reports whether an entry was dropped.
func (c *Cache) InvalidateIfOlder(collection string, version int64) bool {
	e, ok := c.lookup(collection)
	if !ok || e.col.Version >= version {
		return false
	}
	c.Invalidate(collection)
	return true
}

// All yields every cached collection, including expired ones.
func (c *Cache) All() iter.Seq2[string, *topology.Collection] {
	cur := *c.entries.Load()
	return func(yield func(string, *topology.Collection) bool) {
		for k, e := range cur {
			if !yield(k, e.col) {
				return
			}
		}
	}
}

func (c *Cache) lookup(collection string) (*entry, bool) {
	e, ok := (*c.entries.Load())[collection]
	return e, ok
}

func (c *Cache) refresh(ctx context.Context, collection string) (*topology.Collection, error) {
	col, shared, err := c.flight.DoContext(ctx, collection, func() (*topology.Collection, error) {
		// A caller that queued behind a completed refresh may find a fresh entry.
		if e, ok := c.lookup(collection); ok && c.clock.Now().Before(e.deadline) {
			return e.col, nil
		}

		gen := c.generation(collection)

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		timer := c.metrics.RefreshDuration(collection)
		col, err := c.provider.GetState(fetchCtx, collection)
		timer.ObserveDuration()
		c.metrics.RefreshCompleted(collection, err == nil)
		if err != nil {
			c.log.Warn("state refresh failed", slog.String("collection", collection), slog.Any("error", err))
			return nil, err
		}
		if err := col.Validate(); err != nil {
			return nil, err
		}
		c.install(collection, col, gen)
		return col, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get state of %s: %w", collection, err)
	}
	if shared {
		c.log.Debug("joined in-flight refresh", slog.String("collection", collection))
	}
	return col, nil
}

func (c *Cache) generation(collection string) uint64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.gens[collection]
}

func (c *Cache) install(collection string, col *topology.Collection, gen uint64) {
	now := c.clock.Now()
	e := &entry{col: col, fetchedAt: now, deadline: now.Add(c.ttl)}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.gens[collection] != gen {
		c.log.Debug(
			"discarded snapshot fetched before invalidation",
			slog.String("collection", collection),
			slog.Int64("version", col.Version),
		)
		return
	}

	cur := *c.entries.Load()
	next := make(snapshot, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[collection] = e
	c.entries.Store(&next)

	c.log.Debug(
		"installed snapshot",
		slog.String("collection", collection),
		slog.Int64("version", col.Version),
		slog.Int("shards", len(col.Shards)),
	)
}
