package cluster

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"
)

// Health is the client's recent experience with one endpoint.
type Health struct {
	LastSuccess         time.Time
	LastFailure         time.Time
	ConsecutiveFailures int
}

type endpointHint struct {
	lastSuccess atomic.Int64 // unix nanos
	lastFailure atomic.Int64 // unix nanos
	failures    atomic.Int32
}

// liveness tracks per-endpoint hints. Hints only influence candidate order;
// a suspect endpoint is still tried once healthier ones are exhausted.
type liveness struct {
	m     *xsync.Map[string, *endpointHint]
	clock clock.Clock
	ttl   time.Duration
}

func newLiveness(clk clock.Clock, ttl time.Duration) *liveness {
	return &liveness{
		m:     xsync.NewMap[string, *endpointHint](),
		clock: clk,
		ttl:   ttl,
	}
}

func (l *liveness) hint(endpoint string) *endpointHint {
	h, _ := l.m.LoadOrStore(endpoint, &endpointHint{})
	return h
}

func (l *liveness) success(endpoint string) {
	h := l.hint(endpoint)
	h.lastSuccess.Store(l.clock.Now().UnixNano())
	h.failures.Store(0)
}

func (l *liveness) failure(endpoint string) {
	h := l.hint(endpoint)
	h.lastFailure.Store(l.clock.Now().UnixNano())
	h.failures.Add(1)
}

// suspect reports whether endpoint failed recently and has not recovered.
func (l *liveness) suspect(endpoint string) bool {
	h, ok := l.m.Load(endpoint)
	if !ok || h.failures.Load() == 0 {
		return false
	}
	last := time.Unix(0, h.lastFailure.Load())
	return l.clock.Since(last) < l.ttl
}

func (l *liveness) health(endpoint string) (Health, bool) {
	h, ok := l.m.Load(endpoint)
	if !ok {
		return Health{}, false
	}
	out := Health{ConsecutiveFailures: int(h.failures.Load())}
	if ns := h.lastSuccess.Load(); ns != 0 {
		out.LastSuccess = time.Unix(0, ns)
	}
	if ns := h.lastFailure.Load(); ns != 0 {
		out.LastFailure = time.Unix(0, ns)
	}
	return out, true
}
