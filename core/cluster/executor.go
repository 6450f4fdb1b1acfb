package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/codewandler/shardroute/internal/hrw"
)

const DefaultHintTTL = 30 * time.Second

// Ordering selects how candidates are arranged before they are tried.
type Ordering int

const (
	// OrderGiven keeps the caller's order.
	OrderGiven Ordering = iota
	// OrderLeaderFirst tries leaders before the (rotated) followers.
	OrderLeaderFirst
	// OrderRoundRobin rotates the start candidate on every call.
	OrderRoundRobin
	// OrderAffinity ranks candidates by rendezvous hash of a key so the same
	// key keeps hitting the same replica.
	OrderAffinity
)

func (o Ordering) String() string {
	switch o {
	case OrderGiven:
		return "given"
	case OrderLeaderFirst:
		return "leader-first"
	case OrderRoundRobin:
		return "round-robin"
	case OrderAffinity:
		return "affinity"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// Candidate is one endpoint that can serve a request.
type Candidate struct {
	Endpoint string
	Shard    string
	Leader   bool
}

// Attempt records one try against one endpoint.
type Attempt struct {
	Endpoint string
	Err      error
	Duration time.Duration
}

// Outcome is the result of Execute. Endpoint and Data are set on success.
type Outcome struct {
	Endpoint string
	Data     []byte
	Attempts []Attempt
}

type ExecutorOptions struct {
	Transport ClientTransport
	Log       *slog.Logger
	Metrics   ExecutorMetrics
	Clock     clock.Clock
	// HintTTL is how long a connection failure demotes an endpoint.
	HintTTL time.Duration
	// AttemptTimeout bounds a single attempt. Zero means only the caller's
	// context applies.
	AttemptTimeout time.Duration
}

// Executor sends a request to the first candidate endpoint that answers,
// failing over on connection errors.
type Executor struct {
	t              ClientTransport
	log            *slog.Logger
	metrics        ExecutorMetrics
	clock          clock.Clock
	attemptTimeout time.Duration
	hints          *liveness
	rr             atomic.Uint64
}

func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("cluster: ExecutorOptions.Transport is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopExecutorMetrics()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.HintTTL <= 0 {
		opts.HintTTL = DefaultHintTTL
	}
	return &Executor{
		t:              opts.Transport,
		log:            opts.Log.With(slog.String("component", "executor")),
		metrics:        opts.Metrics,
		clock:          opts.Clock,
		attemptTimeout: opts.AttemptTimeout,
		hints:          newLiveness(opts.Clock, opts.HintTTL),
	}, nil
}

// Health returns the recorded hints for endpoint.
func (e *Executor) Health(endpoint string) (Health, bool) { return e.hints.health(endpoint) }

// Order arranges candidates for mode. Endpoints with a recent connection
// failure move behind the others, keeping their relative order.
func (e *Executor) Order(candidates []Candidate, mode Ordering, affinityKey string) []Candidate {
	out := slices.Clone(candidates)
	if len(out) < 2 {
		return out
	}

	switch mode {
	case OrderLeaderFirst:
		slices.SortStableFunc(out, func(a, b Candidate) int {
			switch {
			case a.Leader == b.Leader:
				return 0
			case a.Leader:
				return -1
			default:
				return 1
			}
		})
		n := 0
		for n < len(out) && out[n].Leader {
			n++
		}
		rotate(out[n:], e.rr.Add(1))
	case OrderRoundRobin:
		rotate(out, e.rr.Add(1))
	case OrderAffinity:
		if affinityKey == "" {
			rotate(out, e.rr.Add(1))
			break
		}
		eps := make([]string, len(out))
		byEP := make(map[string]Candidate, len(out))
		for i, c := range out {
			eps[i] = c.Endpoint
			byEP[c.Endpoint] = c
		}
		out = out[:0]
		for _, ep := range hrw.Rank(affinityKey, eps, "") {
			if c, ok := byEP[ep]; ok {
				out = append(out, c)
				delete(byEP, ep)
			}
		}
	}

	healthy := out[:0:0]
	var suspect []Candidate
	for _, c := range out {
		if e.hints.suspect(c.Endpoint) {
			suspect = append(suspect, c)
		} else {
			healthy = append(healthy, c)
		}
	}
	return append(healthy, suspect...)
}

func rotate[T any](s []T, n uint64) {
	if len(s) < 2 {
		return
	}
	k := int(n % uint64(len(s)))
	if k == 0 {
		return
	}
	tmp := slices.Clone(s[:k])
	copy(s, s[k:])
	copy(s[len(s)-k:], tmp)
}

// Execute tries candidates in order until one answers. A connection error
// moves on to the next candidate, any other error is returned at once.
// When every candidate fails to connect the error wraps
// ErrCandidatesExhausted and the last connection error.
func (e *Executor) Execute(ctx context.Context, candidates []Candidate, env Envelope) (Outcome, error) {
	var out Outcome
	if len(candidates) == 0 {
		return out, ErrNoCandidates
	}

	var lastErr error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("execute after %d attempts: %w", len(out.Attempts), err)
		}

		data, d, err := e.attempt(ctx, c.Endpoint, env)
		out.Attempts = append(out.Attempts, Attempt{Endpoint: c.Endpoint, Err: err, Duration: d})

		if err == nil {
			e.hints.success(c.Endpoint)
			e.metrics.AttemptCompleted(OutcomeOK)
			out.Endpoint = c.Endpoint
			out.Data = data
			return out, nil
		}

		if !IsConnectionError(err) {
			// the node answered, so it is reachable
			e.hints.success(c.Endpoint)
			e.metrics.AttemptCompleted(OutcomeRemote)
			return out, err
		}

		e.hints.failure(c.Endpoint)
		e.metrics.AttemptCompleted(OutcomeConnection)
		lastErr = err

		if i < len(candidates)-1 && ctx.Err() == nil {
			e.metrics.Failover()
			e.log.Warn(
				"endpoint unreachable, failing over",
				slog.String("endpoint", c.Endpoint),
				slog.String("next", candidates[i+1].Endpoint),
				slog.String("shard", c.Shard),
				slog.Any("error", err),
			)
		}
	}

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("execute after %d attempts: %w", len(out.Attempts), err)
	}
	e.metrics.Exhausted()
	return out, fmt.Errorf("%w (%d tried): %w", ErrCandidatesExhausted, len(out.Attempts), lastErr)
}

// ExecuteAny load-balances a request across interchangeable endpoints, such
// as nodes for an admin call.
func (e *Executor) ExecuteAny(ctx context.Context, endpoints []string, env Envelope) (Outcome, error) {
	cands := make([]Candidate, len(endpoints))
	for i, ep := range endpoints {
		cands[i] = Candidate{Endpoint: ep}
	}
	return e.Execute(ctx, e.Order(cands, OrderRoundRobin, ""), env)
}

func (e *Executor) attempt(ctx context.Context, endpoint string, env Envelope) ([]byte, time.Duration, error) {
	if e.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.attemptTimeout)
		defer cancel()
	}

	timer := e.metrics.AttemptDuration()
	start := e.clock.Now()
	data, err := e.t.Request(ctx, endpoint, env)
	timer.ObserveDuration()
	d := e.clock.Since(start)

	e.log.Debug(
		"attempt",
		slog.String("endpoint", endpoint),
		slog.Group(
			"envelope",
			slog.String("id", env.ID),
			slog.String("path", env.Path),
		),
		slog.Duration("took", d),
		slog.Any("error", err),
	)
	return data, d, err
}
