package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/codewandler/shardroute/adapters/http"
	"github.com/codewandler/shardroute/core/app"
	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/dispatch"
	"github.com/codewandler/shardroute/core/router"
	"github.com/codewandler/shardroute/core/topology"
)

// searchCluster runs a collection on httptest servers. Every server answers
// CLUSTERSTATUS and rejects requests routed with an outdated state version.
type searchCluster struct {
	t       *testing.T
	mu      sync.Mutex
	col     *topology.Collection
	servers []*httptest.Server
	down    map[string]bool
	docs    map[string]map[string]router.Document
	hits    map[string]int
}

func newSearchCluster(t *testing.T, numNodes, numShards, rf int) *searchCluster {
	sc := &searchCluster{
		t:    t,
		down: map[string]bool{},
		docs: map[string]map[string]router.Document{},
		hits: map[string]int{},
	}

	handlers := make([]nethttp.Handler, numNodes)
	for i := range numNodes {
		srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			handlers[i].ServeHTTP(w, r)
		}))
		t.Cleanup(srv.Close)
		sc.servers = append(sc.servers, srv)
	}

	sc.col = topology.NewCollection(topology.CollectionSpec{
		Name:              "books",
		NumShards:         numShards,
		ReplicationFactor: rf,
		Version:           1,
		BaseURL: func(s, r int) string {
			return sc.servers[(s+r)%numNodes].URL
		},
	})

	for i, srv := range sc.servers {
		var cores []string
		for _, s := range sc.col.Shards {
			for _, r := range s.Replicas {
				if r.BaseURL == srv.URL {
					cores = append(cores, r.Core)
				}
			}
		}
		handlers[i] = httpadapter.NewNodeHandler(httpadapter.NodeHandlerOptions{
			Cores:   cores,
			Handler: sc.handleCore,
			Admin:   sc.handleAdmin,
		})
	}
	return sc
}

func (sc *searchCluster) nodeURLs() []string {
	out := make([]string, len(sc.servers))
	for i, s := range sc.servers {
		out[i] = s.URL
	}
	return out
}

func (sc *searchCluster) stop(baseURL string) {
	sc.mu.Lock()
	sc.down[baseURL] = true
	sc.mu.Unlock()
	for _, s := range sc.servers {
		if s.URL == baseURL {
			s.Close()
		}
	}
}

// bumpVersion publishes the same layout under a newer version.
func (sc *searchCluster) bumpVersion() int64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	next := sc.col.Clone()
	next.Version++
	sc.col = next
	return next.Version
}

func (sc *searchCluster) handleCore(ctx context.Context, core string, env cluster.Envelope) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	shard := strings.Split(core, "_")[1]
	sc.hits[shard]++

	if v := env.Params.Get(dispatch.StateVersionParam); v != "" {
		_, ver, _ := strings.Cut(v, ":")
		if n, _ := strconv.ParseInt(ver, 10, 64); n < sc.col.Version {
			return nil, &cluster.RemoteError{Code: cluster.StaleStateCode, Message: "STATE STALE: " + v + " valid : false"}
		}
	}

	switch env.Path {
	case dispatch.PathUpdate:
		var body dispatch.UpdateBody
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, &cluster.RemoteError{Code: 400, Message: err.Error()}
		}
		if sc.docs[shard] == nil {
			sc.docs[shard] = map[string]router.Document{}
		}
		for _, d := range body.Add {
			sc.docs[shard][d.ID(router.DefaultIDField)] = d
		}
		return []byte(`{"responseHeader":{"status":0,"QTime":2}}`), nil
	default:
		total := 0
		for _, m := range sc.docs {
			total += len(m)
		}
		return fmt.Appendf(nil, `{"responseHeader":{"status":0},"response":{"numFound":%d,"shard":%q}}`, total, shard), nil
	}
}

func (sc *searchCluster) handleAdmin(ctx context.Context, env cluster.Envelope) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if env.Path != httpadapter.PathCollectionsAdmin || env.Params.Get("action") != "CLUSTERSTATUS" {
		return nil, &cluster.RemoteError{Code: 400, Message: "unknown action"}
	}
	if name := env.Params.Get("collection"); name != sc.col.Name {
		return nil, &cluster.RemoteError{Code: 400, Message: "Collection: " + name + " not found"}
	}
	state, err := topology.EncodeCollectionState(sc.col)
	require.NoError(sc.t, err)

	var live []string
	for _, s := range sc.servers {
		if !sc.down[s.URL] {
			live = append(live, s.URL)
		}
	}
	liveJSON, err := json.Marshal(live)
	require.NoError(sc.t, err)
	return fmt.Appendf(nil, `{"cluster":{"collections":%s,"live_nodes":%s}}`, state, liveJSON), nil
}

func (sc *searchCluster) shardOf(id string) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	h := router.Hash(id)
	for _, s := range sc.col.Shards {
		if s.Range.Includes(h) {
			return s.Name
		}
	}
	return ""
}

func newApp(t *testing.T, sc *searchCluster, cfg app.Config) *app.App {
	cfg.Topology.NodeURLs = sc.nodeURLs()
	cfg.Log = slog.Default()
	a, err := app.New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func TestIntegration_UpdatesLandOnOwningShard(t *testing.T) {
	sc := newSearchCluster(t, 3, 3, 2)
	a := newApp(t, sc, app.Config{})

	var docs []router.Document
	for i := range 30 {
		docs = append(docs, router.Document{"id": fmt.Sprintf("tenant%d!doc-%d", i%5, i), "n": i})
	}
	res, err := a.Dispatch(t.Context(), dispatch.NewUpdate("books", docs...))
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Version)
	assert.False(t, res.Retried)

	placed := map[string]string{}
	sc.mu.Lock()
	for shard, m := range sc.docs {
		for id := range m {
			placed[id] = shard
		}
	}
	sc.mu.Unlock()

	require.Len(t, placed, 30)
	for id, shard := range placed {
		assert.Equal(t, sc.shardOf(id), shard, id)
	}

	merged, ok := res.Merged["responseHeader"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, merged["status"])
}

func TestIntegration_FailoverWhenNodeDies(t *testing.T) {
	sc := newSearchCluster(t, 3, 2, 2)
	a := newApp(t, sc, app.Config{})

	// warm the cache while every node is up
	_, err := a.Cache().Get(t.Context(), "books")
	require.NoError(t, err)

	id := "acme!1"
	owner := sc.shardOf(id)
	shard, ok := sc.col.Shard(owner)
	require.True(t, ok)
	sc.stop(shard.Leader().BaseURL)

	res, err := a.Dispatch(t.Context(), dispatch.NewUpdate("books", router.Document{"id": id}))
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	assert.Equal(t, 2, res.Responses[0].Attempts)
	assert.False(t, strings.HasPrefix(res.Responses[0].Endpoint, shard.Leader().BaseURL))
}

func TestIntegration_StaleStateRetried(t *testing.T) {
	sc := newSearchCluster(t, 2, 2, 1)
	a := newApp(t, sc, app.Config{CacheTTLSeconds: 3600})

	_, err := a.Dispatch(t.Context(), dispatch.NewUpdate("books", router.Document{"id": "a"}))
	require.NoError(t, err)

	v := sc.bumpVersion()
	res, err := a.Dispatch(t.Context(), dispatch.NewUpdate("books", router.Document{"id": "b"}))
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Equal(t, v, res.Version)
}

func TestIntegration_LeaderOnlyWithDeadLeader(t *testing.T) {
	sc := newSearchCluster(t, 2, 1, 2)
	a := newApp(t, sc, app.Config{UpdateTargeting: dispatch.UpdateLeaderOnly})

	_, err := a.Cache().Get(t.Context(), "books")
	require.NoError(t, err)
	sc.stop(sc.col.Shards[0].Leader().BaseURL)

	_, err = a.Dispatch(t.Context(), dispatch.NewUpdate("books", router.Document{"id": "x"}))
	var re *dispatch.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 1, re.Failed)
	assert.Zero(t, re.Succeeded)
}

func TestIntegration_QueryAndAdmin(t *testing.T) {
	sc := newSearchCluster(t, 2, 2, 2)
	a := newApp(t, sc, app.Config{ReadRouting: dispatch.ReadLeadersOnly})

	_, err := a.Dispatch(t.Context(), dispatch.NewUpdate("books",
		router.Document{"id": "a"}, router.Document{"id": "b"}, router.Document{"id": "c"},
	))
	require.NoError(t, err)

	res, err := a.Dispatch(t.Context(), dispatch.NewQuery("books", nil))
	require.NoError(t, err)
	resp, ok := res.Merged["response"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, resp["numFound"])

	_, err = a.Admin().CoreStatus(t.Context(), "", false)
	var remote *cluster.RemoteError
	require.ErrorAs(t, err, &remote, "cores admin is not served by these nodes")
	assert.Equal(t, 400, remote.Code)
}

func TestIntegration_UnknownCollection(t *testing.T) {
	sc := newSearchCluster(t, 1, 1, 1)
	a := newApp(t, sc, app.Config{})

	_, err := a.Dispatch(t.Context(), dispatch.NewUpdate("films", router.Document{"id": "a"}))
	require.ErrorIs(t, err, topology.ErrCollectionNotFound)
}
