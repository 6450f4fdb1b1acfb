package router

import (
	"fmt"
	"net/url"

	"github.com/codewandler/shardroute/core/topology"
)

// Implicit routes by shard name. The name comes from the _route_ request
// parameter, then from the collection's route field on the document, then
// from the document's own _route_ field.
type Implicit struct{}

func (Implicit) Kind() topology.RouterKind { return topology.RouterImplicit }

func (Implicit) TargetShard(col *topology.Collection, id string, doc Document, params url.Values) (*topology.Shard, error) {
	name := params.Get(RouteParam)
	if name == "" && doc != nil {
		if col.RouteField != "" {
			name = fieldString(doc[col.RouteField])
		}
		if name == "" {
			name = fieldString(doc[RouteParam])
		}
	}
	if name == "" {
		return nil, &RoutingError{Collection: col.Name, Key: id, Err: ErrNoShardName}
	}
	return lookupActive(col, name)
}

func (Implicit) SearchShards(col *topology.Collection, routeKeys []string) ([]*topology.Shard, error) {
	keys := splitRouteKeys(routeKeys)
	if len(keys) == 0 {
		return activeShards(col), nil
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]*topology.Shard, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		s, err := lookupActive(col, k)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func lookupActive(col *topology.Collection, name string) (*topology.Shard, error) {
	s, ok := col.Shard(name)
	if !ok {
		return nil, &RoutingError{Collection: col.Name, Shard: name, Err: fmt.Errorf("unknown shard")}
	}
	if !s.Active() {
		return nil, &RoutingError{Collection: col.Name, Shard: name, Err: fmt.Errorf("shard is %s", s.State)}
	}
	return s, nil
}

func fieldString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		if len(v) > 0 {
			return fieldString(v[0])
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}
