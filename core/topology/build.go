package topology

import "fmt"

// PartitionRange splits the full hash space into n contiguous ranges of
// (almost) equal size, in ascending order.
func PartitionRange(n int) []Range {
	if n <= 0 {
		return nil
	}
	out := make([]Range, 0, n)
	span := FullRange.Max - FullRange.Min
	inc := span / int64(n)
	start := FullRange.Min
	for i := 0; i < n; i++ {
		end := start + inc
		if i == n-1 {
			end = FullRange.Max
		}
		out = append(out, Range{Min: start, Max: end})
		start = end
	}
	return out
}

// CollectionSpec describes a collection layout for NewCollection.
type CollectionSpec struct {
	Name              string
	Router            RouterKind
	RouteField        string
	NumShards         int
	ReplicationFactor int
	Version           int64
	// BaseURL returns the node base URL hosting replica r of shard s.
	// Defaults to http://node-<r>.
	BaseURL func(shard, replica int) string
}

// NewCollection builds an all-active collection where replica 0 of every
// shard is the leader. Shards are named shard1..shardN.
func NewCollection(spec CollectionSpec) *Collection {
	if spec.Router == "" {
		spec.Router = RouterCompositeID
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	baseURL := spec.BaseURL
	if baseURL == nil {
		baseURL = func(_, r int) string { return fmt.Sprintf("http://node-%d", r) }
	}

	ranges := PartitionRange(spec.NumShards)
	c := &Collection{
		Name:              spec.Name,
		Router:            spec.Router,
		RouteField:        spec.RouteField,
		ReplicationFactor: spec.ReplicationFactor,
		Version:           spec.Version,
		Shards:            make([]*Shard, 0, spec.NumShards),
	}
	for s := 0; s < spec.NumShards; s++ {
		shard := &Shard{
			Name:  fmt.Sprintf("shard%d", s+1),
			State: ShardActive,
		}
		if spec.Router == RouterCompositeID {
			r := ranges[s]
			shard.Range = &r
		}
		for r := 0; r < spec.ReplicationFactor; r++ {
			role := RoleFollower
			if r == 0 {
				role = RoleLeader
			}
			base := baseURL(s, r)
			shard.Replicas = append(shard.Replicas, &Replica{
				Name:     fmt.Sprintf("core_node%d", s*spec.ReplicationFactor+r+1),
				Core:     fmt.Sprintf("%s_%s_replica_n%d", spec.Name, shard.Name, r+1),
				BaseURL:  base,
				NodeName: base,
				Role:     role,
				State:    ReplicaActive,
				Type:     ReplicaNRT,
			})
		}
		c.Shards = append(c.Shards, shard)
	}
	return c
}

// Clone returns a deep copy of c, for building a modified snapshot.
func (c *Collection) Clone() *Collection {
	out := *c
	out.Shards = make([]*Shard, len(c.Shards))
	for i, s := range c.Shards {
		sc := *s
		if s.Range != nil {
			r := *s.Range
			sc.Range = &r
		}
		sc.Replicas = make([]*Replica, len(s.Replicas))
		for j, r := range s.Replicas {
			rc := *r
			sc.Replicas[j] = &rc
		}
		out.Shards[i] = &sc
	}
	return &out
}
