package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type MemoryTransportOpts struct {
	Log *slog.Logger
	// HandlerTimeout bounds a single handler invocation. Zero means only the
	// caller's context applies.
	HandlerTimeout time.Duration
	// MaxConcurrentHandlers limits handlers running at once. Zero is unlimited.
	MaxConcurrentHandlers int
}

type result struct {
	data []byte
	err  error
}

// MemoryTransport connects clients and nodes living in the same process.
// Requests to an endpoint nobody serves fail like a refused connection.
type MemoryTransport struct {
	mu     sync.RWMutex
	log    *slog.Logger
	opts   MemoryTransportOpts
	closed bool

	// endpoint -> handler
	endpoints map[string]*subscription

	sem      chan struct{}
	inflight sync.WaitGroup
	seq      atomic.Uint64
	requests atomic.Int64
}

var _ Transport = (*MemoryTransport)(nil)

func NewInMemoryTransport(opts ...MemoryTransportOpts) *MemoryTransport {
	var o MemoryTransportOpts
	if len(opts) > 0 {
		o = opts[0]
	}
	log := o.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	t := &MemoryTransport{
		log:       log.With(slog.String("transport", "mem")),
		opts:      o,
		endpoints: make(map[string]*subscription),
	}
	if o.MaxConcurrentHandlers > 0 {
		t.sem = make(chan struct{}, o.MaxConcurrentHandlers)
	}
	return t
}

func (t *MemoryTransport) WithLog(log *slog.Logger) *MemoryTransport {
	t.log = log.With(slog.String("transport", "mem"))
	return t
}

// Requests returns how many requests reached a handler.
func (t *MemoryTransport) Requests() int64 { return t.requests.Load() }

func (t *MemoryTransport) Request(ctx context.Context, endpoint string, env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTransportClosed
	}
	sub := t.endpoints[endpoint]
	if sub == nil {
		t.mu.RUnlock()
		return nil, &ConnectionError{Endpoint: endpoint, Err: ErrConnectionRefused}
	}
	t.inflight.Add(1)
	t.mu.RUnlock()

	t.requests.Add(1)
	resCh := make(chan result, 1)
	go func() {
		defer t.inflight.Done()
		data, err := t.invokeHandler(ctx, sub.h, env)
		resCh <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &ConnectionError{
			Endpoint: endpoint,
			Timeout:  errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:      ctx.Err(),
		}
	case res := <-resCh:
		if res.err != nil {
			return nil, t.mapError(ctx, endpoint, res.err)
		}
		return res.data, nil
	}
}

func (t *MemoryTransport) invokeHandler(ctx context.Context, h ServerHandlerFunc, env Envelope) ([]byte, error) {
	if t.sem != nil {
		select {
		case t.sem <- struct{}{}:
			defer func() { <-t.sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	hctx := ctx
	if t.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, t.opts.HandlerTimeout)
		defer cancel()
	}

	data, err := h(hctx, env.Clone())
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, ErrHandlerTimeout
	}
	return data, err
}

// mapError turns handler errors into what a network transport would report.
func (t *MemoryTransport) mapError(ctx context.Context, endpoint string, err error) error {
	var (
		re *RemoteError
		ce *ConnectionError
	)
	switch {
	case errors.As(err, &re):
		out := *re
		out.Endpoint = endpoint
		return &out
	case errors.As(err, &ce):
		out := *ce
		out.Endpoint = endpoint
		return &out
	case errors.Is(err, ErrHandlerTimeout):
		return &ConnectionError{Endpoint: endpoint, Timeout: true, Err: err}
	case ctx.Err() != nil:
		return &ConnectionError{
			Endpoint: endpoint,
			Timeout:  errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:      ctx.Err(),
		}
	default:
		t.log.Debug("handler failed", slog.String("endpoint", endpoint), slog.Any("error", err))
		return &RemoteError{Endpoint: endpoint, Code: 500, Message: err.Error()}
	}
}

func (t *MemoryTransport) Serve(ctx context.Context, endpoint string, h ServerHandlerFunc) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if _, ok := t.endpoints[endpoint]; ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointInUse, endpoint)
	}

	s := &subscription{
		t:        t,
		id:       fmt.Sprintf("sub.%d", t.seq.Add(1)),
		endpoint: endpoint,
		h:        h,
	}
	s.log = t.log.With(slog.String("subscription", s.id), slog.String("endpoint", endpoint))
	t.endpoints[endpoint] = s
	s.log.Debug("serve")

	context.AfterFunc(ctx, func() {
		_ = s.Unsubscribe()
	})
	return s, nil
}

// Close stops accepting requests and waits for running handlers.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	clear(t.endpoints)
	t.mu.Unlock()

	t.inflight.Wait()
	t.log.Debug("closed")
	return nil
}

type subscription struct {
	t        *MemoryTransport
	log      *slog.Logger
	id       string
	endpoint string
	h        ServerHandlerFunc
	once     sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.t.mu.Lock()
		defer s.t.mu.Unlock()
		if cur := s.t.endpoints[s.endpoint]; cur == s {
			delete(s.t.endpoints, s.endpoint)
		}
		s.log.Debug("unsubscribed")
	})
	return nil
}
