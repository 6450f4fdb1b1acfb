package nats

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/topology"
)

func TestNats_Transport(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	connect := ReuseConnection(ConnectURL(NewTestContainer(t)))

	tp, err := NewTransport(TransportConfig{
		Connect:       connect,
		Log:           slog.Default(),
		SubjectPrefix: "test",
	})
	require.NoError(t, err)

	const endpoint = "http://h1:8983/solr/books_shard1_replica_n1"

	t.Run("request & reply", func(t *testing.T) {
		s, err := tp.Serve(t.Context(), endpoint, func(ctx context.Context, env cluster.Envelope) ([]byte, error) {
			require.Equal(t, "/update", env.Path)
			require.Equal(t, "true", env.Params.Get("commit"))
			return env.Data, nil
		})
		require.NoError(t, err)
		defer func() { require.NoError(t, s.Unsubscribe()) }()

		data, err := tp.Request(t.Context(), endpoint, cluster.NewEnvelope("/update", []byte("hello"), cluster.WithParam("commit", "true")))
		require.NoError(t, err)
		require.Equal(t, "hello", string(data))
	})

	t.Run("remote error keeps its code", func(t *testing.T) {
		s, err := tp.Serve(t.Context(), endpoint, func(ctx context.Context, env cluster.Envelope) ([]byte, error) {
			return nil, &cluster.RemoteError{Code: cluster.StaleStateCode, Message: "stale state"}
		})
		require.NoError(t, err)
		defer func() { require.NoError(t, s.Unsubscribe()) }()

		_, err = tp.Request(t.Context(), endpoint, cluster.NewEnvelope("/update", nil))
		require.True(t, cluster.IsStale(err))
	})

	t.Run("no server is a connection error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		_, err := tp.Request(ctx, "http://nowhere/core", cluster.NewEnvelope("/select", nil))
		require.True(t, cluster.IsConnectionError(err))
	})

	t.Run("node over nats", func(t *testing.T) {
		col := topology.NewCollection(topology.CollectionSpec{Name: "books", NumShards: 2})
		cluster.CreateTestNodes(t, tp, col, func(ctx context.Context, core string, env cluster.Envelope) ([]byte, error) {
			return []byte(core), nil
		})
		exec, err := cluster.NewExecutor(cluster.ExecutorOptions{Transport: tp})
		require.NoError(t, err)

		r := col.Shards[1].Replicas[0]
		out, err := exec.Execute(t.Context(), []cluster.Candidate{{Endpoint: r.Endpoint()}}, cluster.NewEnvelope("/select", nil))
		require.NoError(t, err)
		require.Equal(t, r.Core, string(out.Data))
	})

	require.NoError(t, tp.Close())
	require.ErrorIs(t, tp.Close(), cluster.ErrTransportClosed)
}
