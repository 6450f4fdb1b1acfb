package router

import (
	"net/url"

	"github.com/codewandler/shardroute/core/topology"
)

// Group is the subset of a batch that targets one shard. Items keep their
// original relative order.
type Group[T any] struct {
	Shard *topology.Shard
	Items []T
}

// Unroutable is an item whose shard could not be determined.
type Unroutable[T any] struct {
	Item T
	Err  error
}

// KeyFunc extracts the id and, when available, the document of an item.
type KeyFunc[T any] func(T) (id string, doc Document)

// Partition splits items by target shard. Every item ends up either in
// exactly one group or in the unroutable list. Groups are ordered by the
// first appearance of their shard in items.
func Partition[T any](col *topology.Collection, r Router, items []T, key KeyFunc[T], params url.Values) ([]Group[T], []Unroutable[T]) {
	var (
		groups []Group[T]
		bad    []Unroutable[T]
		index  = make(map[string]int)
	)
	for _, it := range items {
		id, doc := key(it)
		s, err := r.TargetShard(col, id, doc, params)
		if err != nil {
			bad = append(bad, Unroutable[T]{Item: it, Err: err})
			continue
		}
		i, ok := index[s.Name]
		if !ok {
			i = len(groups)
			index[s.Name] = i
			groups = append(groups, Group[T]{Shard: s})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups, bad
}
