package router

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/twmb/murmur3"

	"github.com/codewandler/shardroute/core/topology"
)

const separator = "!"

// CompositeID routes by a murmur3 hash of the document id. Ids of the form
// "tenant!doc" place the tenant's hash in the upper 16 bits so all of a
// tenant's documents land on the same shard (or a small group of shards).
// "tenant/bits!doc" changes how many upper bits the prefix controls, and
// three-part ids "a!b!c" split the upper bits 8/8 by default.
type CompositeID struct{}

func (CompositeID) Kind() topology.RouterKind { return topology.RouterCompositeID }

func (r CompositeID) TargetShard(col *topology.Collection, id string, _ Document, params url.Values) (*topology.Shard, error) {
	key := id
	if v := params.Get(RouteParam); v != "" {
		key = v
	}
	if key == "" {
		return nil, &RoutingError{Collection: col.Name, Err: fmt.Errorf("empty routing key")}
	}

	h := Hash(key)
	for s := range col.ActiveShards() {
		if s.Range != nil && s.Range.Includes(h) {
			return s, nil
		}
	}
	return nil, &RoutingError{
		Collection: col.Name,
		Key:        key,
		Err:        fmt.Errorf("hash %08x outside all shard ranges", uint32(h)),
	}
}

func (r CompositeID) SearchShards(col *topology.Collection, routeKeys []string) ([]*topology.Shard, error) {
	keys := splitRouteKeys(routeKeys)
	if len(keys) == 0 {
		return activeShards(col), nil
	}

	seen := make(map[string]struct{})
	var out []*topology.Shard
	for _, k := range keys {
		rng := KeyRange(k)
		matched := false
		for s := range col.ActiveShards() {
			if s.Range == nil || !s.Range.Overlaps(rng) {
				continue
			}
			matched = true
			if _, ok := seen[s.Name]; ok {
				continue
			}
			seen[s.Name] = struct{}{}
			out = append(out, s)
		}
		if !matched {
			return nil, &RoutingError{Collection: col.Name, Key: k, Err: fmt.Errorf("no shard covers %s", rng)}
		}
	}
	return out, nil
}

// Hash computes the routing hash of a (possibly composite) id.
func Hash(id string) int32 {
	parts, bits := parseKey(id)
	switch len(parts) {
	case 1:
		return int32(murmur3.Sum32([]byte(parts[0])))
	case 2:
		m1 := upperMask(bits[0])
		h1 := murmur3.Sum32([]byte(parts[0]))
		h2 := murmur3.Sum32([]byte(parts[1]))
		return int32((h1 & m1) | (h2 &^ m1))
	default:
		m1 := upperMask(bits[0])
		m2 := upperMask(bits[0]+bits[1]) &^ m1
		h1 := murmur3.Sum32([]byte(parts[0]))
		h2 := murmur3.Sum32([]byte(parts[1]))
		h3 := murmur3.Sum32([]byte(parts[2]))
		return int32((h1 & m1) | (h2 & m2) | (h3 &^ (m1 | m2)))
	}
}

// KeyRange returns the hash range a route key can produce. A plain id maps
// to a single hash. Otherwise only the prefix counts: "tenant!" and
// "tenant!doc" both cover every id under tenant, "a!b!" every id under a!b.
func KeyRange(key string) topology.Range {
	if !strings.Contains(key, separator) {
		h := int64(Hash(key))
		return topology.Range{Min: h, Max: h + 1}
	}

	parts, bits := parseKey(key)
	mask := upperMask(bits[0])
	fixed := murmur3.Sum32([]byte(parts[0])) & mask
	if len(parts) == 3 {
		m2 := upperMask(bits[0]+bits[1]) &^ mask
		fixed |= murmur3.Sum32([]byte(parts[1])) & m2
		mask |= m2
	}

	lo := int32(fixed)
	hi := int32(fixed | ^mask)
	if lo > hi {
		// only possible with a zero-bit prefix
		return topology.FullRange
	}
	return topology.Range{Min: int64(lo), Max: int64(hi) + 1}
}

// parseKey splits "a/bits!b!c" into its parts and per-part bit widths.
func parseKey(id string) (parts []string, bits [2]uint) {
	parts = strings.SplitN(id, separator, 3)
	if len(parts) == 1 {
		return parts, bits
	}
	if len(parts) == 2 {
		bits[0] = 16
	} else {
		bits[0], bits[1] = 8, 8
	}
	for i := 0; i < len(parts)-1 && i < 2; i++ {
		p, b, ok := strings.Cut(parts[i], "/")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(b, 10, 8)
		if err != nil {
			continue
		}
		parts[i] = p
		bits[i] = min(uint(n), 32)
	}
	if bits[0]+bits[1] > 32 {
		bits[1] = 32 - bits[0]
	}
	return parts, bits
}

func upperMask(bits uint) uint32 {
	if bits == 0 {
		return 0
	}
	if bits >= 32 {
		return ^uint32(0)
	}
	return ^uint32(0) << (32 - bits)
}
