package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewandler/shardroute/core/topology"
	"github.com/codewandler/shardroute/ports/kv"
)

type ProviderConfig struct {
	Connect Connector
	Bucket  string
	// Chroot is the namespace of the cluster inside the bucket, e.g. "/solr".
	Chroot string
	Log    *slog.Logger
}

// Provider serves collection state published into a JetStream bucket by the
// coordination ensemble.
type Provider struct {
	*topology.EnsembleProvider
	kv     *KV
	chroot string
	log    *slog.Logger
	stop   context.CancelFunc
}

func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("provider", "nats"))

	store, err := NewKV(ctx, KvConfig{Connect: cfg.Connect, Bucket: cfg.Bucket, Log: log})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", topology.ErrStateUnavailable, err)
	}
	ep, err := topology.NewEnsembleProvider(topology.EnsembleOptions{
		Store:  store,
		Chroot: cfg.Chroot,
		Log:    log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Provider{
		EnsembleProvider: ep,
		kv:               store,
		chroot:           cfg.Chroot,
		log:              log,
		stop:             func() {},
	}, nil
}

// Store gives write access to the bucket, e.g. for publishing state.
func (p *Provider) Store() kv.Store { return p.kv }

// Watch reports collection state changes until the provider is closed. fn
// receives the new state version, or 0 when the collection was removed.
func (p *Provider) Watch(fn func(collection string, version int64)) error {
	ctx, cancel := context.WithCancel(context.Background())
	err := p.kv.Watch(ctx, topology.CollectionsPrefix(p.chroot), func(e kv.Entry, deleted bool) {
		name, ok := topology.CollectionFromKey(p.chroot, e.Key)
		if !ok {
			return
		}
		if deleted {
			fn(name, 0)
			return
		}
		version := int64(e.Revision)
		if col, err := topology.DecodeCollectionState(name, e.Data, nil); err == nil && col.Version != 0 {
			version = col.Version
		}
		fn(name, version)
	})
	if err != nil {
		cancel()
		return err
	}
	p.stop = cancel
	return nil
}

func (p *Provider) Close() error {
	p.stop()
	return p.kv.Close()
}

var _ topology.StateProvider = (*Provider)(nil)
