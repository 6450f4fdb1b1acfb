package prometheus

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardroute/core/cache"
	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/dispatch"
	"github.com/codewandler/shardroute/core/router"
	"github.com/codewandler/shardroute/core/topology"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics(reg)
	require.NotNil(t, m)

	timer := m.DispatchDuration("update")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.DispatchCompleted("update", dispatch.OutcomeOK)
	m.DispatchCompleted("update", dispatch.OutcomePartial)
	m.SubRequests("update", 3)
	m.StaleRetry("books")

	names := gatherNames(t, reg)
	assert.True(t, names["shardroute_dispatch_duration_seconds"])
	assert.True(t, names["shardroute_dispatch_total"])
	assert.True(t, names["shardroute_dispatch_sub_requests"])
	assert.True(t, names["shardroute_dispatch_stale_retries_total"])
}

func TestNewExecutorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewExecutorMetrics(reg)
	require.NotNil(t, m)

	m.AttemptDuration().ObserveDuration()
	m.AttemptCompleted(cluster.OutcomeConnection)
	m.Failover()
	m.Exhausted()

	names := gatherNames(t, reg)
	assert.True(t, names["shardroute_executor_attempt_duration_seconds"])
	assert.True(t, names["shardroute_executor_attempts_total"])
	assert.True(t, names["shardroute_executor_failovers_total"])
	assert.True(t, names["shardroute_executor_exhausted_total"])
}

func TestNewCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCacheMetrics(reg)
	require.NotNil(t, m)

	m.CacheHit("books")
	m.CacheMiss("books")
	m.RefreshDuration("books").ObserveDuration()
	m.RefreshCompleted("books", true)
	m.Invalidated("books")

	names := gatherNames(t, reg)
	assert.True(t, names["shardroute_state_cache_hits_total"])
	assert.True(t, names["shardroute_state_refreshes_total"])
	assert.True(t, names["shardroute_state_invalidations_total"])
}

func TestAllMetrics_Wired(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)
	require.NotNil(t, m.Dispatch)
	require.NotNil(t, m.Executor)
	require.NotNil(t, m.Cache)

	col := topology.NewCollection(topology.CollectionSpec{
		Name:              "books",
		NumShards:         2,
		ReplicationFactor: 2,
		BaseURL:           func(_, r int) string { return []string{"mem://n0", "mem://n1"}[r] },
	})
	tr := cluster.CreateInMemoryTransport(t)
	nodes := cluster.CreateTestNodes(t, tr, col, func(ctx context.Context, core string, env cluster.Envelope) ([]byte, error) {
		return []byte(`{"responseHeader":{"status":0}}`), nil
	})
	require.NoError(t, nodes["mem://n0"].Stop())

	c, err := cache.New(topology.NewStaticProvider(col), cache.Options{Metrics: m.Cache})
	require.NoError(t, err)
	exec, err := cluster.NewExecutor(cluster.ExecutorOptions{Transport: tr, Metrics: m.Executor})
	require.NoError(t, err)
	d, err := dispatch.New(dispatch.DefaultConfig(), dispatch.Deps{Cache: c, Executor: exec, Metrics: m.Dispatch})
	require.NoError(t, err)

	_, err = d.Dispatch(t.Context(), dispatch.NewUpdate("books", router.Document{"id": "a"}))
	require.NoError(t, err)

	total, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, total)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executor.(*executorMetrics).failoversTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cache.(*cacheMetrics).misses.WithLabelValues("books")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatch.(*dispatchMetrics).total.WithLabelValues("update", dispatch.OutcomeOK)))
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
