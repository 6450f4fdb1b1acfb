package topology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// StateProvider supplies point-in-time snapshots of collection topology.
// Implementations must be safe for concurrent use.
type StateProvider interface {
	// GetState returns the current snapshot of the named collection. It
	// fails with an error wrapping ErrStateUnavailable when the backing
	// source is unreachable.
	GetState(ctx context.Context, collection string) (*Collection, error)

	Close() error
}

// StaticProvider serves snapshots from memory. Snapshots can be replaced at
// any time with Set, which makes it useful for tests and for embedding a
// topology that is maintained elsewhere.
type StaticProvider struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	unavailable error
	closed      bool

	fetches atomic.Int64
}

func NewStaticProvider(collections ...*Collection) *StaticProvider {
	p := &StaticProvider{collections: make(map[string]*Collection, len(collections))}
	for _, c := range collections {
		p.collections[c.Name] = c
	}
	return p
}

// Set installs or replaces the snapshot for c.Name.
func (p *StaticProvider) Set(c *Collection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collections[c.Name] = c
}

func (p *StaticProvider) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, name)
}

// SetUnavailable makes every following GetState fail with err wrapped in
// ErrStateUnavailable; nil restores normal operation.
func (p *StaticProvider) SetUnavailable(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = err
}

// Fetches returns how many times GetState was called.
func (p *StaticProvider) Fetches() int64 { return p.fetches.Load() }

func (p *StaticProvider) GetState(ctx context.Context, collection string) (*Collection, error) {
	p.fetches.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.unavailable != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateUnavailable, p.unavailable)
	}
	c, ok := p.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return c, nil
}

func (p *StaticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ StateProvider = (*StaticProvider)(nil)
