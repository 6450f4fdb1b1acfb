package router

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/murmur3"

	"github.com/codewandler/shardroute/core/topology"
)

func compositeCollection(shards int) *topology.Collection {
	return topology.NewCollection(topology.CollectionSpec{Name: "books", NumShards: shards, ReplicationFactor: 2})
}

func idOnShard(t *testing.T, col *topology.Collection, shard string) string {
	t.Helper()
	for i := 0; i < 10_000; i++ {
		id := fmt.Sprintf("doc-%d", i)
		s, err := CompositeID{}.TargetShard(col, id, nil, nil)
		require.NoError(t, err)
		if s.Name == shard {
			return id
		}
	}
	t.Fatalf("no id found for %s", shard)
	return ""
}

func TestHash_PlainID(t *testing.T) {
	assert.Equal(t, int32(murmur3.Sum32([]byte("doc-1"))), Hash("doc-1"))
}

func TestHash_CompositePrefixSharesUpperBits(t *testing.T) {
	a := uint32(Hash("tenant!doc-1"))
	b := uint32(Hash("tenant!doc-2"))
	assert.Equal(t, a>>16, b>>16)
	assert.Equal(t, murmur3.Sum32([]byte("tenant"))>>16, a>>16)
	assert.Equal(t, murmur3.Sum32([]byte("doc-1"))&0xffff, a&0xffff)
}

func TestHash_CustomBits(t *testing.T) {
	a := uint32(Hash("tenant/4!doc-1"))
	assert.Equal(t, murmur3.Sum32([]byte("tenant"))>>28, a>>28)
	assert.Equal(t, murmur3.Sum32([]byte("doc-1"))&0x0fffffff, a&0x0fffffff)
}

func TestHash_ThreeLevel(t *testing.T) {
	a := uint32(Hash("org!team!doc"))
	assert.Equal(t, murmur3.Sum32([]byte("org"))>>24, a>>24)
	assert.Equal(t, (murmur3.Sum32([]byte("team"))>>16)&0xff, (a>>16)&0xff)
	assert.Equal(t, murmur3.Sum32([]byte("doc"))&0xffff, a&0xffff)
}

func TestKeyRange(t *testing.T) {
	r := KeyRange("tenant!")
	assert.Equal(t, int64(1<<16), r.Max-r.Min)
	for i := 0; i < 100; i++ {
		assert.True(t, r.Includes(Hash(fmt.Sprintf("tenant!%d", i))))
	}
	assert.Equal(t, r, KeyRange("tenant!doc-7"))

	single := KeyRange("doc-1")
	assert.Equal(t, int64(1), single.Max-single.Min)
	assert.True(t, single.Includes(Hash("doc-1")))

	assert.Equal(t, topology.FullRange, KeyRange("tenant/0!"))
}

func TestCompositeID_TargetShard(t *testing.T) {
	col := compositeCollection(4)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("id-%d", i)
		s, err := CompositeID{}.TargetShard(col, id, nil, nil)
		require.NoError(t, err)
		require.True(t, s.Range.Includes(Hash(id)), "id %s on %s", id, s.Name)
	}
}

func TestCompositeID_RouteParamOverridesID(t *testing.T) {
	col := compositeCollection(4)
	target := idOnShard(t, col, "shard3")
	s, err := CompositeID{}.TargetShard(col, "anything", nil, url.Values{RouteParam: {target}})
	require.NoError(t, err)
	assert.Equal(t, "shard3", s.Name)
}

func TestCompositeID_SkipsInactiveShards(t *testing.T) {
	col := compositeCollection(2)
	id := idOnShard(t, col, "shard1")
	col.Shards[0].State = topology.ShardInactive

	_, err := CompositeID{}.TargetShard(col, id, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRouting)
	var re *RoutingError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, id, re.Key)
}

func TestCompositeID_SearchShards(t *testing.T) {
	col := compositeCollection(4)

	all, err := CompositeID{}.SearchShards(col, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	id := idOnShard(t, col, "shard2")
	one, err := CompositeID{}.SearchShards(col, []string{id})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "shard2", one[0].Name)

	id3 := idOnShard(t, col, "shard3")
	two, err := CompositeID{}.SearchShards(col, []string{id + "," + id3, id})
	require.NoError(t, err)
	assert.Len(t, two, 2)

	prefixed, err := CompositeID{}.SearchShards(col, []string{"tenant!"})
	require.NoError(t, err)
	require.NotEmpty(t, prefixed)
	s, err := CompositeID{}.TargetShard(col, "tenant!doc", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, prefixed, s)
}

func TestImplicit_TargetShard(t *testing.T) {
	col := topology.NewCollection(topology.CollectionSpec{
		Name:       "logs",
		Router:     topology.RouterImplicit,
		RouteField: "day",
		NumShards:  3,
	})

	s, err := Implicit{}.TargetShard(col, "1", Document{"id": "1", "day": "shard2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "shard2", s.Name)

	s, err = Implicit{}.TargetShard(col, "1", Document{"id": "1", "day": "shard2"}, url.Values{RouteParam: {"shard3"}})
	require.NoError(t, err)
	assert.Equal(t, "shard3", s.Name)

	s, err = Implicit{}.TargetShard(col, "1", Document{"id": "1", RouteParam: "shard1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "shard1", s.Name)

	_, err = Implicit{}.TargetShard(col, "1", Document{"id": "1"}, nil)
	assert.ErrorIs(t, err, ErrNoShardName)
	assert.ErrorIs(t, err, ErrRouting)

	_, err = Implicit{}.TargetShard(col, "1", Document{"day": "shard9"}, nil)
	assert.ErrorIs(t, err, ErrRouting)
}

func TestImplicit_SearchShards(t *testing.T) {
	col := topology.NewCollection(topology.CollectionSpec{Name: "logs", Router: topology.RouterImplicit, NumShards: 3})

	all, err := Implicit{}.SearchShards(col, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := Implicit{}.SearchShards(col, []string{"shard1,shard3", "shard1"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "shard1", some[0].Name)
	assert.Equal(t, "shard3", some[1].Name)

	_, err = Implicit{}.SearchShards(col, []string{"nope"})
	assert.ErrorIs(t, err, ErrRouting)
}

func TestForCollection(t *testing.T) {
	r, err := ForCollection(compositeCollection(1))
	require.NoError(t, err)
	assert.Equal(t, topology.RouterCompositeID, r.Kind())

	r, err = ForCollection(&topology.Collection{Name: "x", Router: topology.RouterImplicit})
	require.NoError(t, err)
	assert.Equal(t, topology.RouterImplicit, r.Kind())

	_, err = ForCollection(&topology.Collection{Name: "x", Router: "plain"})
	assert.ErrorIs(t, err, ErrRouting)
}

func TestPartition_EveryItemExactlyOnce(t *testing.T) {
	col := compositeCollection(5)
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%d", i)
	}

	groups, bad := Partition(col, CompositeID{}, ids, func(id string) (string, Document) { return id, nil }, nil)
	require.Empty(t, bad)

	seen := map[string]int{}
	for _, g := range groups {
		for _, id := range g.Items {
			seen[id]++
			assert.True(t, g.Shard.Range.Includes(Hash(id)))
		}
	}
	require.Len(t, seen, len(ids))
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestPartition_GroupsKeepOrder(t *testing.T) {
	col := compositeCollection(2)
	a1 := idOnShard(t, col, "shard1")
	b := idOnShard(t, col, "shard2")
	a2 := a1 + "-again"
	for {
		s, err := CompositeID{}.TargetShard(col, a2, nil, nil)
		require.NoError(t, err)
		if s.Name == "shard1" {
			break
		}
		a2 += "x"
	}

	groups, bad := Partition(col, CompositeID{}, []string{a1, b, a2}, func(id string) (string, Document) { return id, nil }, nil)
	require.Empty(t, bad)
	require.Len(t, groups, 2)
	assert.Equal(t, "shard1", groups[0].Shard.Name)
	assert.Equal(t, []string{a1, a2}, groups[0].Items)
	assert.Equal(t, "shard2", groups[1].Shard.Name)
	assert.Equal(t, []string{b}, groups[1].Items)
}

func TestPartition_Unroutable(t *testing.T) {
	col := topology.NewCollection(topology.CollectionSpec{Name: "logs", Router: topology.RouterImplicit, NumShards: 2})
	docs := []Document{
		{"id": "1", RouteParam: "shard1"},
		{"id": "2"},
	}
	groups, bad := Partition(col, Implicit{}, docs, func(d Document) (string, Document) { return d.ID(""), d }, nil)
	require.Len(t, groups, 1)
	require.Len(t, bad, 1)
	assert.Equal(t, "2", bad[0].Item.ID(""))
	assert.ErrorIs(t, bad[0].Err, ErrNoShardName)
}
