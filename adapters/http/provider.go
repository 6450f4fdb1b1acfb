package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"

	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/topology"
)

const (
	// PathCollectionsAdmin is the collections admin handler of a node.
	PathCollectionsAdmin = "/admin/collections"
	DefaultMaxRounds     = 3
)

type ProviderConfig struct {
	// Transport defaults to a new HTTP Transport.
	Transport cluster.ClientTransport
	NodeURLs  []string
	// MaxRounds bounds how often all nodes are tried before giving up.
	MaxRounds int
	// Backoff paces the rounds. Defaults to exponential backoff from 100ms.
	Backoff func() backoff.BackOff
	Log     *slog.Logger
}

// Provider polls collection state from a fixed list of nodes with the
// CLUSTERSTATUS admin action. Nodes are tried in turn from a rotating offset.
type Provider struct {
	t         cluster.ClientTransport
	ownT      bool
	nodes     []string
	maxRounds int
	backoff   func() backoff.BackOff
	log       *slog.Logger
	next      atomic.Uint64
}

func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if len(cfg.NodeURLs) == 0 {
		return nil, fmt.Errorf("http: ProviderConfig.NodeURLs is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	p := &Provider{
		t:         cfg.Transport,
		nodes:     make([]string, len(cfg.NodeURLs)),
		maxRounds: cfg.MaxRounds,
		backoff:   cfg.Backoff,
		log:       log.With(slog.String("provider", "http")),
	}
	for i, u := range cfg.NodeURLs {
		p.nodes[i] = strings.TrimRight(u, "/")
	}
	if p.t == nil {
		p.t = NewTransport(TransportConfig{Log: log})
		p.ownT = true
	}
	if p.maxRounds <= 0 {
		p.maxRounds = DefaultMaxRounds
	}
	if p.backoff == nil {
		p.backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	return p, nil
}

// Nodes returns the configured node base URLs.
func (p *Provider) Nodes() []string { return p.nodes }

func (p *Provider) GetState(ctx context.Context, collection string) (*topology.Collection, error) {
	env := cluster.NewEnvelope(PathCollectionsAdmin, nil,
		cluster.WithParam("action", "CLUSTERSTATUS"),
		cluster.WithParam("collection", collection),
		cluster.WithParam("wt", "json"),
	)
	env.Method = nethttp.MethodGet

	round := 0
	fetch := func() (*topology.Collection, error) {
		round++
		start := int(p.next.Add(1) - 1)
		var errs error
		for i := range p.nodes {
			base := p.nodes[(start+i)%len(p.nodes)]
			col, err := p.fetchFrom(ctx, base, collection, env)
			if err == nil {
				return col, nil
			}
			if errors.Is(err, topology.ErrCollectionNotFound) || errors.Is(err, topology.ErrInvalidState) {
				return nil, backoff.Permanent(err)
			}
			errs = multierr.Append(errs, err)
		}
		return nil, errs
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backoff(), uint64(p.maxRounds-1)), ctx)
	col, err := backoff.RetryNotifyWithData(fetch, b, func(err error, wait time.Duration) {
		p.log.Warn(
			"no node answered, retrying",
			slog.String("collection", collection),
			slog.Int("round", round),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	})
	if err != nil {
		if errors.Is(err, topology.ErrCollectionNotFound) || errors.Is(err, topology.ErrInvalidState) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d nodes, %d rounds: %w", topology.ErrStateUnavailable, len(p.nodes), round, err)
	}
	return col, nil
}

func (p *Provider) fetchFrom(ctx context.Context, base, collection string, env cluster.Envelope) (*topology.Collection, error) {
	data, err := p.t.Request(ctx, base, env)
	if err != nil {
		var re *cluster.RemoteError
		if errors.As(err, &re) && strings.Contains(strings.ToLower(re.Message), "not found") {
			return nil, fmt.Errorf("%w: %s", topology.ErrCollectionNotFound, collection)
		}
		return nil, err
	}
	return topology.DecodeClusterStatus(collection, data)
}

func (p *Provider) Close() error {
	if p.ownT {
		return p.t.Close()
	}
	return nil
}

var _ topology.StateProvider = (*Provider)(nil)
