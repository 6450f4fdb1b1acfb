package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardroute/core/topology"
)

// gatedProvider blocks every fetch until the gate is opened.
type gatedProvider struct {
	*topology.StaticProvider
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (p *gatedProvider) GetState(ctx context.Context, name string) (*topology.Collection, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.gate
	return p.StaticProvider.GetState(ctx, name)
}

func newCache(t *testing.T, p topology.StateProvider, ttlSeconds int) (*Cache, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	c, err := New(p, Options{TTLSeconds: ttlSeconds, Clock: mock})
	require.NoError(t, err)
	return c, mock
}

func books() *topology.Collection {
	return topology.NewCollection(topology.CollectionSpec{Name: "books", NumShards: 2, Version: 1})
}

func TestCache_ServesWithinTTL(t *testing.T) {
	p := topology.NewStaticProvider(books())
	c, mock := newCache(t, p, 10)

	for range 5 {
		col, err := c.Get(t.Context(), "books")
		require.NoError(t, err)
		require.Equal(t, "books", col.Name)
		mock.Add(time.Second)
	}
	require.EqualValues(t, 1, p.Fetches())
}

func TestCache_RefreshesAfterTTL(t *testing.T) {
	p := topology.NewStaticProvider(books())
	c, mock := newCache(t, p, 1)

	_, err := c.Get(t.Context(), "books")
	require.NoError(t, err)
	require.EqualValues(t, 1, p.Fetches())

	mock.Add(2 * time.Second)

	_, err = c.Get(t.Context(), "books")
	require.NoError(t, err)
	require.EqualValues(t, 2, p.Fetches(), "second read past the TTL must trigger exactly one fetch")
}

func TestCache_SingleFlight(t *testing.T) {
	p := &gatedProvider{
		StaticProvider: topology.NewStaticProvider(books()),
		gate:           make(chan struct{}),
		entered:        make(chan struct{}),
	}
	c, _ := newCache(t, p, 1)

	const n = 32
	var (
		wg   sync.WaitGroup
		oks  atomic.Int32
		errs = make(chan error, n)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			col, err := c.Get(context.Background(), "books")
			if err != nil {
				errs <- err
				return
			}
			if col.Name == "books" {
				oks.Add(1)
			}
		}()
	}

	<-p.entered
	time.Sleep(50 * time.Millisecond)
	close(p.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, n, oks.Load())
	require.EqualValues(t, 1, p.Fetches())
}

func TestCache_WaiterDeadline(t *testing.T) {
	p := &gatedProvider{
		StaticProvider: topology.NewStaticProvider(books()),
		gate:           make(chan struct{}),
		entered:        make(chan struct{}),
	}
	c, _ := newCache(t, p, 5)

	first := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "books")
		first <- err
	}()
	<-p.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "books")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(p.gate)
	require.NoError(t, <-first)
	require.EqualValues(t, 1, p.Fetches())
}

func TestCache_Invalidate(t *testing.T) {
	p := topology.NewStaticProvider(books())
	c, _ := newCache(t, p, 60)

	_, err := c.Get(t.Context(), "books")
	require.NoError(t, err)

	next := books().Clone()
	next.Version = 2
	p.Set(next)

	c.Invalidate("books")
	_, ok := c.Peek("books")
	require.False(t, ok)

	col, err := c.Get(t.Context(), "books")
	require.NoError(t, err)
	require.EqualValues(t, 2, col.Version)
	require.EqualValues(t, 2, p.Fetches())
}

// lateProvider reads the snapshot first and holds the first fetch until the
// gate opens, so the result can go stale while the fetch is in flight.
type lateProvider struct {
	*topology.StaticProvider
	gate    chan struct{}
	entered chan struct{}
	calls   atomic.Int32
}

func (p *lateProvider) GetState(ctx context.Context, name string) (*topology.Collection, error) {
	col, err := p.StaticProvider.GetState(ctx, name)
	if p.calls.Add(1) == 1 {
		close(p.entered)
		<-p.gate
	}
	return col, err
}

func TestCache_InvalidateDetachesInFlightFetch(t *testing.T) {
	p := &lateProvider{
		StaticProvider: topology.NewStaticProvider(books()),
		gate:           make(chan struct{}),
		entered:        make(chan struct{}),
	}
	c, _ := newCache(t, p, 60)

	first := make(chan *topology.Collection, 1)
	go func() {
		col, err := c.Get(context.Background(), "books")
		assert.NoError(t, err)
		first <- col
	}()
	<-p.entered

	next := books().Clone()
	next.Version = 2
	p.Set(next)
	c.Invalidate("books")

	col, err := c.Get(t.Context(), "books")
	require.NoError(t, err)
	require.EqualValues(t, 2, col.Version, "Get after Invalidate must not join the older fetch")

	close(p.gate)
	old := <-first
	require.NotNil(t, old)
	require.EqualValues(t, 1, old.Version)

	col, err = c.Get(t.Context(), "books")
	require.NoError(t, err)
	require.EqualValues(t, 2, col.Version, "the older fetch must not overwrite the newer snapshot")
	require.EqualValues(t, 2, p.Fetches())
}

func TestCache_InvalidateIfOlder(t *testing.T) {
	p := topology.NewStaticProvider(books())
	c, _ := newCache(t, p, 60)
	_, err := c.Get(t.Context(), "books")
	require.NoError(t, err)

	require.False(t, c.InvalidateIfOlder("books", 1))
	require.True(t, c.InvalidateIfOlder("books", 2))
	require.False(t, c.InvalidateIfOlder("books", 3), "nothing left to drop")
}

func TestCache_ExpiredEntryNotServedOnFailure(t *testing.T) {
	p := topology.NewStaticProvider(books())
	c, mock := newCache(t, p, 1)

	_, err := c.Get(t.Context(), "books")
	require.NoError(t, err)

	p.SetUnavailable(errors.New("no route to ensemble"))
	mock.Add(2 * time.Second)

	_, err = c.Get(t.Context(), "books")
	require.ErrorIs(t, err, topology.ErrStateUnavailable)
}

func TestCache_All(t *testing.T) {
	films := topology.NewCollection(topology.CollectionSpec{Name: "films", NumShards: 1})
	p := topology.NewStaticProvider(books(), films)
	c, _ := newCache(t, p, 60)

	for _, name := range []string{"books", "films"} {
		_, err := c.Get(t.Context(), name)
		require.NoError(t, err)
	}

	got := map[string]int{}
	for name, col := range c.All() {
		got[name] = len(col.Shards)
	}
	assert.Equal(t, map[string]int{"books": 2, "films": 1}, got)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)

	_, err = New(topology.NewStaticProvider(), Options{TTLSeconds: -1})
	require.Error(t, err)

	c, err := New(topology.NewStaticProvider(), Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultTTLSeconds*time.Second, c.TTL())
}
