package router

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/codewandler/shardroute/core/topology"
)

const (
	// RouteParam overrides the routing key of a request.
	RouteParam = "_route_"
	// DefaultIDField is the unique key field of documents.
	DefaultIDField = "id"
)

var (
	ErrRouting = errors.New("routing failed")
	// ErrNoShardName is returned by the implicit router when neither the
	// request nor the document names a shard.
	ErrNoShardName = errors.New("no shard name")
	ErrNoLeader    = errors.New("no leader")
	ErrNoReplica   = errors.New("no usable replica")
)

// RoutingError reports that a key or shard could not be mapped onto the
// current topology. It usually means the cached state is stale or
// incomplete.
type RoutingError struct {
	Collection string
	Shard      string
	Key        string
	Err        error
}

func (e *RoutingError) Error() string {
	var b strings.Builder
	b.WriteString("routing failed: collection ")
	b.WriteString(e.Collection)
	if e.Shard != "" {
		b.WriteString(" shard ")
		b.WriteString(e.Shard)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key %q", e.Key)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RoutingError) Unwrap() error { return e.Err }

func (e *RoutingError) Is(target error) bool { return target == ErrRouting }

// Document is one indexable record keyed by field name.
type Document map[string]any

// ID returns the document's unique key as a string.
func (d Document) ID(field string) string {
	if field == "" {
		field = DefaultIDField
	}
	switch v := d[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Router maps documents and routing keys onto a collection's shards.
type Router interface {
	Kind() topology.RouterKind

	// TargetShard returns the active shard a document or id must be sent to.
	// doc may be nil for delete-by-id.
	TargetShard(col *topology.Collection, id string, doc Document, params url.Values) (*topology.Shard, error)

	// SearchShards returns the active shards a read carrying routeKeys must
	// visit. No keys means every active shard.
	SearchShards(col *topology.Collection, routeKeys []string) ([]*topology.Shard, error)
}

var (
	compositeID = CompositeID{}
	implicit    = Implicit{}
)

// ForCollection returns the router the collection is configured with.
func ForCollection(col *topology.Collection) (Router, error) {
	switch col.Router {
	case topology.RouterCompositeID, "":
		return compositeID, nil
	case topology.RouterImplicit:
		return implicit, nil
	default:
		return nil, &RoutingError{Collection: col.Name, Err: fmt.Errorf("unknown router %q", col.Router)}
	}
}

func activeShards(col *topology.Collection) []*topology.Shard {
	out := make([]*topology.Shard, 0, len(col.Shards))
	for s := range col.ActiveShards() {
		out = append(out, s)
	}
	return out
}

// splitRouteKeys flattens comma separated route values.
func splitRouteKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, p := range strings.Split(k, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
