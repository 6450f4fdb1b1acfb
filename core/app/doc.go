// Package app assembles a routing client from a single [Config].
//
// A Config names exactly one source of collection state. Ensemble addresses
// read state from the coordination namespace over NATS and keep the cache
// fresh through a KV watch. Node URLs poll state with CLUSTERSTATUS from the
// listed nodes instead.
//
// # Basic Usage
//
//	a, err := app.New(ctx, app.Config{
//	    Topology: app.TopologyConfig{
//	        NodeURLs: []string{"http://search-1:8983", "http://search-2:8983"},
//	    },
//	    CacheTTLSeconds: 60,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//
//	res, err := a.Dispatch(ctx, dispatch.NewUpdate("books",
//	    router.Document{"id": "tenant1!book-1", "title": "Dune"},
//	))
//
// Configuration errors are reported as [dispatch.ConfigError] before any
// connection is made.
//
// # Embedding
//
// Config.Provider and Config.ClientTransport replace the configured source
// and transport, for example with a [topology.StaticProvider] and an
// in-memory transport in tests.
package app
