package topology

import (
	"fmt"
	"iter"
	"strings"
)

// RouterKind names the strategy a collection uses to map documents to shards.
type RouterKind string

const (
	RouterCompositeID RouterKind = "compositeId"
	RouterImplicit    RouterKind = "implicit"
)

type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

type ReplicaState string

const (
	ReplicaActive     ReplicaState = "active"
	ReplicaDown       ReplicaState = "down"
	ReplicaRecovering ReplicaState = "recovering"
)

type ShardState string

const (
	ShardActive       ShardState = "active"
	ShardInactive     ShardState = "inactive"
	ShardConstruction ShardState = "construction"
	ShardRecovery     ShardState = "recovery"
)

type ReplicaType string

const (
	ReplicaNRT  ReplicaType = "NRT"
	ReplicaTLOG ReplicaType = "TLOG"
	ReplicaPULL ReplicaType = "PULL"
)

// Range is a half-open interval [Min, Max) over the signed 32-bit hash space.
// Max is int64 so the interval can end past math.MaxInt32.
type Range struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// FullRange covers the whole hash space.
var FullRange = Range{Min: -1 << 31, Max: 1 << 31}

func (r Range) Includes(hash int32) bool {
	h := int64(hash)
	return h >= r.Min && h < r.Max
}

// Overlaps reports whether the two ranges share at least one hash.
func (r Range) Overlaps(o Range) bool {
	return r.Min < o.Max && o.Min < r.Max
}

func (r Range) Empty() bool { return r.Max <= r.Min }

// String renders the range in the cluster's inclusive hex form, e.g. "80000000-ffffffff".
func (r Range) String() string {
	return fmt.Sprintf("%08x-%08x", uint32(int32(r.Min)), uint32(int32(r.Max-1)))
}

type Replica struct {
	Name     string       `json:"name"`
	Core     string       `json:"core"`
	BaseURL  string       `json:"base_url"`
	NodeName string       `json:"node_name"`
	Role     Role         `json:"role"`
	State    ReplicaState `json:"state"`
	Type     ReplicaType  `json:"type"`

	// NodeDown is set when the topology source reports live nodes and the
	// replica's node is not among them.
	NodeDown bool `json:"-"`
}

// Endpoint is the address requests for this replica are sent to.
func (r *Replica) Endpoint() string {
	if r.Core == "" {
		return strings.TrimRight(r.BaseURL, "/")
	}
	return strings.TrimRight(r.BaseURL, "/") + "/" + r.Core
}

func (r *Replica) IsLeader() bool { return r.Role == RoleLeader }

// Usable reports whether requests may be sent to the replica.
func (r *Replica) Usable() bool { return r.State == ReplicaActive && !r.NodeDown }

type Shard struct {
	Name     string     `json:"name"`
	Range    *Range     `json:"range,omitempty"`
	State    ShardState `json:"state"`
	Replicas []*Replica `json:"replicas"`
}

func (s *Shard) Active() bool { return s.State == "" || s.State == ShardActive }

// Leader returns the usable replica flagged as leader, or nil.
func (s *Shard) Leader() *Replica {
	for _, r := range s.Replicas {
		if r.IsLeader() && r.Usable() {
			return r
		}
	}
	return nil
}

// UsableReplicas yields replicas requests may be sent to, in declaration order.
func (s *Shard) UsableReplicas() iter.Seq[*Replica] {
	return func(yield func(*Replica) bool) {
		for _, r := range s.Replicas {
			if !r.Usable() {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

// Collection is an immutable snapshot of one collection's topology. Values
// handed out by providers and caches must not be modified.
type Collection struct {
	Name              string     `json:"name"`
	Router            RouterKind `json:"router"`
	RouteField        string     `json:"route_field,omitempty"`
	ReplicationFactor int        `json:"replication_factor"`
	Version           int64      `json:"version"`
	Shards            []*Shard   `json:"shards"`
}

func (c *Collection) Shard(name string) (*Shard, bool) {
	for _, s := range c.Shards {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

func (c *Collection) AllShards() iter.Seq[*Shard] {
	return func(yield func(*Shard) bool) {
		for _, s := range c.Shards {
			if !yield(s) {
				return
			}
		}
	}
}

// ActiveShards yields shards that accept requests. Inactive shards left
// behind by a split keep their range but must not receive traffic.
func (c *Collection) ActiveShards() iter.Seq[*Shard] {
	return func(yield func(*Shard) bool) {
		for _, s := range c.Shards {
			if !s.Active() {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// NodeURLs yields the distinct base URLs of all usable replicas.
func (c *Collection) NodeURLs() iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := map[string]struct{}{}
		for _, s := range c.Shards {
			for r := range s.UsableReplicas() {
				if _, ok := seen[r.BaseURL]; ok {
					continue
				}
				seen[r.BaseURL] = struct{}{}
				if !yield(r.BaseURL) {
					return
				}
			}
		}
	}
}

// Validate checks the structural invariants a snapshot must hold before it
// may be installed.
func (c *Collection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: collection name is empty", ErrInvalidState)
	}
	switch c.Router {
	case RouterCompositeID, RouterImplicit:
	default:
		return fmt.Errorf("%w: collection %q: unknown router %q", ErrInvalidState, c.Name, c.Router)
	}
	seen := make(map[string]struct{}, len(c.Shards))
	for _, s := range c.Shards {
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("%w: collection %q: duplicate shard %q", ErrInvalidState, c.Name, s.Name)
		}
		seen[s.Name] = struct{}{}
		if c.Router == RouterCompositeID && s.Range == nil && s.Active() {
			return fmt.Errorf("%w: collection %q: shard %q has no hash range", ErrInvalidState, c.Name, s.Name)
		}
		leaders := 0
		for _, r := range s.Replicas {
			if r.IsLeader() {
				leaders++
			}
		}
		if leaders > 1 {
			return fmt.Errorf("%w: collection %q: shard %q has %d leaders", ErrInvalidState, c.Name, s.Name, leaders)
		}
	}
	return nil
}
