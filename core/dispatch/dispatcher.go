package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/topology"
)

// StateCache is the collection state the dispatcher routes with.
type StateCache interface {
	Get(ctx context.Context, collection string) (*topology.Collection, error)
	Invalidate(collection string)
	InvalidateIfOlder(collection string, version int64) bool
}

// Executor sends one sub-request to the first candidate that answers.
type Executor interface {
	Order(candidates []cluster.Candidate, mode cluster.Ordering, affinityKey string) []cluster.Candidate
	Execute(ctx context.Context, candidates []cluster.Candidate, env cluster.Envelope) (cluster.Outcome, error)
}

type Deps struct {
	Cache    StateCache
	Executor Executor
	Log      *slog.Logger
	Metrics  Metrics
}

// Dispatcher splits requests by shard, sends the parts to replicas and
// reconciles the replies. It is safe for concurrent use.
type Dispatcher struct {
	cfg     Config
	cache   StateCache
	exec    Executor
	log     *slog.Logger
	metrics Metrics
}

func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Cache == nil {
		return nil, &ConfigError{Field: "Cache", Reason: "is required"}
	}
	if deps.Executor == nil {
		return nil, &ConfigError{Field: "Executor", Reason: "is required"}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics()
	}
	return &Dispatcher{
		cfg:     cfg.withDefaults(),
		cache:   deps.Cache,
		exec:    deps.Executor,
		log:     deps.Log.With(slog.String("component", "dispatcher")),
		metrics: deps.Metrics,
	}, nil
}

func (d *Dispatcher) Config() Config { return d.cfg }

type subResult struct {
	sub *subRequest
	out cluster.Outcome
	err error
}

// Dispatch routes req and waits for every sub-request. Sub-requests that
// failed for a reason fresher topology could fix are retried once, together,
// after the cached collection state was dropped. Anything still failing is
// reported as a *RouteError carrying the partial result.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Collection == "" {
		return nil, fmt.Errorf("dispatch: collection is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.cfg.RequestTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	kind := req.kind()
	defer d.metrics.DispatchDuration(kind).ObserveDuration()

	res := &Result{RequestID: gonanoid.Must(12), Collection: req.Collection}
	log := d.log.With(
		slog.String("request_id", res.RequestID),
		slog.String("collection", req.Collection),
		slog.String("kind", kind),
	)

	col, err := d.cache.Get(ctx, req.Collection)
	if err != nil {
		d.metrics.DispatchCompleted(kind, OutcomeFailed)
		return nil, d.timeoutErr(ctx, err)
	}

	var subs []*subRequest
	if req.IsUpdate() {
		subs = d.planUpdate(col, d.initialItems(req))
	} else {
		subs = []*subRequest{d.planRead(col, req)}
	}
	results := d.run(ctx, log, col, req, res.RequestID, subs)

	var retry []subResult
	final := results[:0:0]
	for _, r := range results {
		if r.err != nil && retryable(r.err) {
			retry = append(retry, r)
			continue
		}
		final = append(final, r)
	}

	if len(retry) > 0 && ctx.Err() == nil {
		log.Warn(
			"refreshing collection state and retrying",
			slog.Int("failed", len(retry)),
			slog.Int64("version", col.Version),
			slog.Any("error", retry[0].err),
		)
		d.cache.Invalidate(req.Collection)
		d.metrics.StaleRetry(req.Collection)
		res.Retried = true

		fresh, err := d.cache.Get(ctx, req.Collection)
		if err != nil {
			err = d.timeoutErr(ctx, fmt.Errorf("refresh before retry: %w", err))
			for i := range retry {
				retry[i].err = err
			}
			final = append(final, retry...)
		} else {
			col = fresh
			var subs []*subRequest
			if req.IsUpdate() {
				subs = d.planUpdate(col, d.retryItems(req, retry, final))
			} else {
				subs = []*subRequest{d.planRead(col, req)}
			}
			final = append(final, d.run(ctx, log, col, req, res.RequestID, subs)...)
		}
	} else {
		final = append(final, retry...)
	}

	res.Version = col.Version
	failures := d.merge(res, col, req, final)
	if len(failures) == 0 {
		d.metrics.DispatchCompleted(kind, OutcomeOK)
		log.Debug("dispatched", slog.Int("responses", len(res.Responses)), slog.Bool("retried", res.Retried))
		return res, nil
	}

	outcome := OutcomeFailed
	if len(res.Responses) > 0 {
		outcome = OutcomePartial
	}
	d.metrics.DispatchCompleted(kind, outcome)
	rerr := &RouteError{
		Collection: req.Collection,
		Failures:   failures,
		Succeeded:  len(res.Responses),
		Failed:     len(failures),
		Partial:    res,
	}
	log.Error("dispatch failed", slog.Int("succeeded", rerr.Succeeded), slog.Int("failed", rerr.Failed), slog.Any("error", rerr))
	return nil, rerr
}

func (d *Dispatcher) initialItems(req *Request) updateItems {
	in := updateItems{docs: req.Documents, ids: req.DeleteIDs, params: req.Params}
	if len(req.DeleteQueries) > 0 || (len(req.Documents) == 0 && len(req.DeleteIDs) == 0) {
		in.broadcastTo = func(*topology.Shard) bool { return true }
	}
	return in
}

// retryItems collects the content of failed sub-requests. The broadcast part
// goes again to the shards that failed with it and to shards that did not
// exist in the previous state, such as the children of a split.
func (d *Dispatcher) retryItems(req *Request, failed, done []subResult) updateItems {
	in := updateItems{params: req.Params}
	names := map[string]bool{}
	seen := map[string]bool{}
	for _, r := range failed {
		in.docs = append(in.docs, r.sub.docs...)
		for _, id := range r.sub.deleteIDs {
			if !seen[id] {
				seen[id] = true
				in.ids = append(in.ids, id)
			}
		}
		if r.sub.broadcast {
			names[r.sub.shardName()] = true
		}
	}
	if len(names) == 0 {
		return in
	}
	settled := map[string]bool{}
	for _, r := range done {
		settled[r.sub.shardName()] = true
	}
	in.broadcastTo = func(s *topology.Shard) bool {
		return names[s.Name] || !settled[s.Name]
	}
	return in
}

func (d *Dispatcher) run(ctx context.Context, log *slog.Logger, col *topology.Collection, req *Request, id string, subs []*subRequest) []subResult {
	d.metrics.SubRequests(req.kind(), len(subs))
	results := make([]subResult, len(subs))

	exec := func(i int) {
		results[i] = d.execute(ctx, col, req, id, subs[i])
	}

	if len(subs) == 1 {
		exec(0)
		return results
	}

	if !req.IsUpdate() || !d.cfg.SequentialUpdates {
		var g errgroup.Group
		g.SetLimit(d.cfg.MaxParallel)
		for i := range subs {
			g.Go(func() error {
				exec(i)
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	for i := range subs {
		exec(i)
		err := results[i].err
		if err == nil || retryable(err) {
			continue
		}
		log.Warn("aborting remaining sub-requests", slog.String("shard", subs[i].shardName()), slog.Any("error", err))
		for j := i + 1; j < len(subs); j++ {
			cause := ErrAborted
			if ctx.Err() != nil {
				cause = ErrTimeout
			}
			results[j] = subResult{sub: subs[j], err: cause}
		}
		break
	}
	return results
}

func (d *Dispatcher) execute(ctx context.Context, col *topology.Collection, req *Request, id string, sub *subRequest) subResult {
	if sub.planErr != nil {
		return subResult{sub: sub, err: sub.planErr}
	}
	if err := ctx.Err(); err != nil {
		return subResult{sub: sub, err: d.timeoutErr(ctx, err)}
	}

	env, err := d.envelope(col, req, id, sub)
	if err != nil {
		return subResult{sub: sub, err: err}
	}
	cands := d.exec.Order(sub.candidates, sub.ordering, sub.affinity)
	out, err := d.exec.Execute(ctx, cands, env)
	if err != nil {
		err = d.timeoutErr(ctx, err)
	}
	return subResult{sub: sub, out: out, err: err}
}

func (d *Dispatcher) envelope(col *topology.Collection, req *Request, id string, sub *subRequest) (cluster.Envelope, error) {
	params := url.Values{}
	for k, v := range req.Params {
		params[k] = slices.Clone(v)
	}
	params.Set(StateVersionParam, col.Name+":"+strconv.FormatInt(col.Version, 10))

	env := cluster.Envelope{
		ID:      id,
		Path:    req.path(),
		Params:  params,
		Headers: map[string]string{cluster.HeaderRequestID: id},
	}

	if !req.IsUpdate() {
		env.Method = "GET"
		if len(sub.shards) > 0 {
			params.Set("shards", strings.Join(sub.shards, ","))
		}
		return env, nil
	}

	body := UpdateBody{Add: sub.docs, Delete: sub.deleteIDs}
	if sub.broadcast {
		body.DeleteByQuery = req.DeleteQueries
	}
	data, err := d.cfg.RequestCodec.Marshal(body)
	if err != nil {
		return env, fmt.Errorf("encode update for %s: %w", sub.shardName(), err)
	}
	env.Method = "POST"
	env.ContentType = d.cfg.RequestCodec.ContentType()
	env.Data = data
	return env, nil
}

// timeoutErr marks errors caused by the request deadline.
func (d *Dispatcher) timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// merge fills res from the successful results and returns the failures.
func (d *Dispatcher) merge(res *Result, col *topology.Collection, req *Request, results []subResult) []Failure {
	var failures []Failure
	decoded := map[string]any{}
	status, qtime := 0, 0

	for _, r := range results {
		if r.err != nil {
			f := Failure{Shard: r.sub.shardName(), Attempts: r.out.Attempts, Err: r.err}
			if n := len(r.out.Attempts); n > 0 {
				f.Endpoint = r.out.Attempts[n-1].Endpoint
			}
			failures = append(failures, f)
			continue
		}

		res.Responses = append(res.Responses, ShardResponse{
			Shard:    r.sub.shardName(),
			Endpoint: r.out.Endpoint,
			Data:     r.out.Data,
			Attempts: len(r.out.Attempts),
		})

		var m map[string]any
		if len(r.out.Data) == 0 || d.cfg.ResponseCodec.Unmarshal(r.out.Data, &m) != nil {
			continue
		}
		d.checkVersion(col, m)
		if !req.IsUpdate() {
			res.Merged = m
			continue
		}
		decoded[r.sub.shardName()] = m
		if h, ok := m["responseHeader"].(map[string]any); ok {
			status = max(status, intOf(h["status"]))
			qtime = max(qtime, intOf(h["QTime"]))
		}
	}

	slices.SortFunc(res.Responses, func(a, b ShardResponse) int { return strings.Compare(a.Shard, b.Shard) })
	if req.IsUpdate() && len(res.Responses) > 0 {
		res.Merged = map[string]any{
			"responseHeader": map[string]any{"status": status, "QTime": qtime},
			"responses":      decoded,
		}
	}
	return failures
}

// checkVersion drops the cached state when a node reports a newer version.
func (d *Dispatcher) checkVersion(col *topology.Collection, m map[string]any) {
	v, ok := m[StateVersionParam].(string)
	if !ok {
		return
	}
	name, ver, ok := strings.Cut(v, ":")
	if !ok || name != col.Name {
		return
	}
	n, err := strconv.ParseInt(ver, 10, 64)
	if err != nil || n <= col.Version {
		return
	}
	if d.cache.InvalidateIfOlder(col.Name, n) {
		d.log.Info("node reported newer collection state", slog.String("collection", col.Name), slog.Int64("version", n))
	}
}

func intOf(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
