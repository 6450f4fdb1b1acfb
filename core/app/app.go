package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.uber.org/multierr"

	httpadapter "github.com/codewandler/shardroute/adapters/http"
	natsadapter "github.com/codewandler/shardroute/adapters/nats"
	"github.com/codewandler/shardroute/adapters/prometheus"
	"github.com/codewandler/shardroute/core/cache"
	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/dispatch"
	"github.com/codewandler/shardroute/core/topology"
)

// App is a routing client assembled from a Config.
type App struct {
	log        *slog.Logger
	provider   topology.StateProvider
	cache      *cache.Cache
	transport  cluster.ClientTransport
	exec       *cluster.Executor
	dispatcher *dispatch.Dispatcher
	admin      *httpadapter.AdminClient
	closers    []func() error
}

func New(ctx context.Context, config Config) (app *App, err error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// === logger ===
	if config.Log == nil {
		config.Log = slog.Default()
	}
	app = &App{log: config.Log.With(slog.String("component", "app"))}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	// === metrics ===
	var (
		dm dispatch.Metrics
		em cluster.ExecutorMetrics
		cm cache.Metrics
	)
	if config.Registerer != nil {
		all := prometheus.NewAllMetrics(config.Registerer)
		dm, em, cm = all.Dispatch, all.Executor, all.Cache
	}

	// === ensemble connection ===
	var connect natsadapter.Connector
	if len(config.Topology.EnsembleAddrs) > 0 {
		connect = natsadapter.ReuseConnection(natsadapter.ConnectEnsemble(config.Topology.EnsembleAddrs, config.Log))
	}

	// === transport ===
	switch {
	case config.ClientTransport != nil:
		app.transport = config.ClientTransport
	case config.Transport == TransportNATS:
		t, err := natsadapter.NewTransport(natsadapter.TransportConfig{Connect: connect, Log: config.Log})
		if err != nil {
			return nil, err
		}
		app.transport = t
		app.closers = append(app.closers, t.Close)
	default:
		t := httpadapter.NewTransport(httpadapter.TransportConfig{
			ConnectTimeout: time.Duration(config.ConnectionTimeoutMillis) * time.Millisecond,
			SocketTimeout:  time.Duration(config.SocketTimeoutMillis) * time.Millisecond,
			Log:            config.Log,
		})
		app.transport = t
		app.closers = append(app.closers, t.Close)
	}

	// === topology source ===
	var watch func(fn func(string, int64)) error
	switch {
	case config.Provider != nil:
		app.provider = config.Provider
	case len(config.Topology.NodeURLs) > 0:
		p, err := httpadapter.NewProvider(httpadapter.ProviderConfig{
			Transport: app.transport,
			NodeURLs:  config.Topology.NodeURLs,
			Log:       config.Log,
		})
		if err != nil {
			return nil, err
		}
		app.provider = p
	default:
		p, err := natsadapter.NewProvider(ctx, natsadapter.ProviderConfig{
			Connect: connect,
			Bucket:  config.Topology.Bucket,
			Chroot:  config.Topology.Chroot,
			Log:     config.Log,
		})
		if err != nil {
			return nil, err
		}
		app.provider = p
		watch = p.Watch
	}
	app.closers = append(app.closers, app.provider.Close)

	// === cache ===
	app.cache, err = cache.New(app.provider, cache.Options{
		TTLSeconds: config.CacheTTLSeconds,
		Log:        config.Log,
		Metrics:    cm,
	})
	if err != nil {
		return nil, err
	}
	if watch != nil {
		err = watch(func(collection string, version int64) {
			if version == 0 {
				app.cache.Invalidate(collection)
				return
			}
			app.cache.InvalidateIfOlder(collection, version)
		})
		if err != nil {
			return nil, err
		}
	}

	// === executor ===
	app.exec, err = cluster.NewExecutor(cluster.ExecutorOptions{
		Transport:      app.transport,
		Log:            config.Log,
		Metrics:        em,
		AttemptTimeout: config.attemptTimeout(),
	})
	if err != nil {
		return nil, err
	}

	// === dispatcher ===
	app.dispatcher, err = dispatch.New(config.dispatchConfig(), dispatch.Deps{
		Cache:    app.cache,
		Executor: app.exec,
		Log:      config.Log,
		Metrics:  dm,
	})
	if err != nil {
		return nil, err
	}

	// === admin ===
	nodeURLs := config.Topology.NodeURLs
	app.admin = httpadapter.NewAdminClient(app.exec, func() []string {
		if len(nodeURLs) > 0 {
			return nodeURLs
		}
		return app.KnownNodes()
	})

	app.log.Debug(
		"created app",
		slog.String("transport", fmt.Sprintf("%T", app.transport)),
		slog.String("provider", fmt.Sprintf("%T", app.provider)),
	)
	return app, nil
}

func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

func (a *App) Cache() *cache.Cache { return a.cache }

func (a *App) Executor() *cluster.Executor { return a.exec }

func (a *App) Admin() *httpadapter.AdminClient { return a.admin }

func (a *App) Provider() topology.StateProvider { return a.provider }

// Dispatch is a shortcut for Dispatcher().Dispatch.
func (a *App) Dispatch(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	return a.dispatcher.Dispatch(ctx, req)
}

// KnownNodes returns the nodes of all cached collections, sorted.
func (a *App) KnownNodes() []string {
	seen := map[string]struct{}{}
	for _, col := range a.cache.All() {
		for n := range col.NodeURLs() {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Close releases the provider and transport in reverse order of creation.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
