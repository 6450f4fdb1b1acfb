package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	c := NewCollection(CollectionSpec{Name: "books", NumShards: 2})
	p := NewStaticProvider(c)

	got, err := p.GetState(t.Context(), "books")
	require.NoError(t, err)
	require.Same(t, c, got)

	_, err = p.GetState(t.Context(), "films")
	require.ErrorIs(t, err, ErrCollectionNotFound)

	p.SetUnavailable(errors.New("ensemble down"))
	_, err = p.GetState(t.Context(), "books")
	require.ErrorIs(t, err, ErrStateUnavailable)
	p.SetUnavailable(nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = p.GetState(ctx, "books")
	require.ErrorIs(t, err, context.Canceled)

	require.EqualValues(t, 4, p.Fetches())
	require.NoError(t, p.Close())
	_, err = p.GetState(t.Context(), "books")
	require.ErrorIs(t, err, ErrProviderClosed)
}

func TestCollection_Iterators(t *testing.T) {
	c := NewCollection(CollectionSpec{Name: "books", NumShards: 3, ReplicationFactor: 2})
	c.Shards[1].State = ShardInactive
	c.Shards[2].Replicas[0].State = ReplicaDown

	var active []string
	for s := range c.ActiveShards() {
		active = append(active, s.Name)
	}
	require.Equal(t, []string{"shard1", "shard3"}, active)
	require.Nil(t, c.Shards[2].Leader())

	var nodes []string
	for u := range c.NodeURLs() {
		nodes = append(nodes, u)
	}
	require.Equal(t, []string{"http://node-0", "http://node-1"}, nodes)
}

func TestCollection_Clone(t *testing.T) {
	c := NewCollection(CollectionSpec{Name: "books", NumShards: 2, ReplicationFactor: 2})
	cp := c.Clone()
	cp.Shards[0].Replicas[0].Role = RoleFollower
	cp.Shards[0].Range.Min = 5

	require.Equal(t, RoleLeader, c.Shards[0].Replicas[0].Role)
	require.Equal(t, FullRange.Min, c.Shards[0].Range.Min)
}
