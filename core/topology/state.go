package topology

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Wire form of collection state as stored by the coordination service
// (state.json) and returned by the CLUSTERSTATUS admin action.

type stateReplica struct {
	Core     string `json:"core"`
	BaseURL  string `json:"base_url"`
	NodeName string `json:"node_name"`
	State    string `json:"state"`
	Leader   string `json:"leader,omitempty"`
	Type     string `json:"type,omitempty"`
}

type stateShard struct {
	Range    *string                  `json:"range"`
	State    string                   `json:"state"`
	Replicas map[string]*stateReplica `json:"replicas"`
}

type stateRouter struct {
	Name  string `json:"name"`
	Field string `json:"field,omitempty"`
}

type stateCollection struct {
	Router            stateRouter            `json:"router"`
	ReplicationFactor flexInt                `json:"replicationFactor"`
	Version           flexInt                `json:"znodeVersion"`
	Shards            map[string]*stateShard `json:"shards"`
}

type clusterStatus struct {
	Cluster struct {
		Collections map[string]json.RawMessage `json:"collections"`
		LiveNodes   []string                   `json:"live_nodes"`
	} `json:"cluster"`
}

// flexInt accepts both JSON numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// ParseRange parses the inclusive hex form "80000000-ffffffff" into a
// half-open Range.
func ParseRange(s string) (Range, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: malformed range %q", ErrInvalidState, s)
	}
	min, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return Range{}, fmt.Errorf("%w: malformed range %q: %w", ErrInvalidState, s, err)
	}
	max, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return Range{}, fmt.Errorf("%w: malformed range %q: %w", ErrInvalidState, s, err)
	}
	r := Range{Min: int64(int32(uint32(min))), Max: int64(int32(uint32(max))) + 1}
	if r.Empty() {
		return Range{}, fmt.Errorf("%w: empty range %q", ErrInvalidState, s)
	}
	return r, nil
}

// DecodeCollectionState decodes the state.json form {"<name>": {...}}. A bare
// collection object is accepted too. liveNodes, when non-nil, marks replicas
// on other nodes as down.
func DecodeCollectionState(name string, data []byte, liveNodes []string) (*Collection, error) {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: decode state of %s: %w", ErrInvalidState, name, err)
	}
	raw, ok := wrapped[name]
	if !ok {
		raw = data
	}
	return decodeCollection(name, raw, liveNodes)
}

// DecodeClusterStatus decodes a CLUSTERSTATUS response and returns the named
// collection with the reported live nodes applied.
func DecodeClusterStatus(name string, data []byte) (*Collection, error) {
	var cs clusterStatus
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("%w: decode cluster status: %w", ErrInvalidState, err)
	}
	raw, ok := cs.Cluster.Collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	live := cs.Cluster.LiveNodes
	if live == nil {
		live = []string{}
	}
	return decodeCollection(name, raw, live)
}

func decodeCollection(name string, raw []byte, liveNodes []string) (*Collection, error) {
	var sc stateCollection
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("%w: decode collection %s: %w", ErrInvalidState, name, err)
	}

	var live map[string]struct{}
	if liveNodes != nil {
		live = make(map[string]struct{}, len(liveNodes))
		for _, n := range liveNodes {
			live[n] = struct{}{}
		}
	}

	router := RouterKind(sc.Router.Name)
	if router == "" {
		router = RouterCompositeID
	}

	c := &Collection{
		Name:              name,
		Router:            router,
		RouteField:        sc.Router.Field,
		ReplicationFactor: int(sc.ReplicationFactor),
		Version:           int64(sc.Version),
		Shards:            make([]*Shard, 0, len(sc.Shards)),
	}

	for _, shardName := range sortedKeys(sc.Shards) {
		ss := sc.Shards[shardName]
		s := &Shard{
			Name:     shardName,
			State:    ShardState(ss.State),
			Replicas: make([]*Replica, 0, len(ss.Replicas)),
		}
		if ss.Range != nil && *ss.Range != "" {
			r, err := ParseRange(*ss.Range)
			if err != nil {
				return nil, fmt.Errorf("collection %s shard %s: %w", name, shardName, err)
			}
			s.Range = &r
		}
		for _, replicaName := range sortedKeys(ss.Replicas) {
			sr := ss.Replicas[replicaName]
			rep := &Replica{
				Name:     replicaName,
				Core:     sr.Core,
				BaseURL:  sr.BaseURL,
				NodeName: sr.NodeName,
				Role:     RoleFollower,
				State:    ReplicaState(sr.State),
				Type:     ReplicaType(sr.Type),
			}
			if rep.Type == "" {
				rep.Type = ReplicaNRT
			}
			if sr.Leader == "true" {
				rep.Role = RoleLeader
			}
			if live != nil {
				_, ok := live[sr.NodeName]
				rep.NodeDown = !ok
			}
			s.Replicas = append(s.Replicas, rep)
		}
		c.Shards = append(c.Shards, s)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeCollectionState renders c in the state.json form understood by
// DecodeCollectionState.
func EncodeCollectionState(c *Collection) ([]byte, error) {
	return json.Marshal(stateDocument(c))
}

// stateDocument is the state.json document of c, keyed by collection name.
func stateDocument(c *Collection) map[string]any {
	sc := struct {
		Router            stateRouter            `json:"router"`
		ReplicationFactor int                    `json:"replicationFactor"`
		Version           int64                  `json:"znodeVersion"`
		Shards            map[string]*stateShard `json:"shards"`
	}{
		Router:            stateRouter{Name: string(c.Router), Field: c.RouteField},
		ReplicationFactor: c.ReplicationFactor,
		Version:           c.Version,
		Shards:            make(map[string]*stateShard, len(c.Shards)),
	}
	for _, s := range c.Shards {
		ss := &stateShard{State: string(s.State), Replicas: make(map[string]*stateReplica, len(s.Replicas))}
		if ss.State == "" {
			ss.State = string(ShardActive)
		}
		if s.Range != nil {
			r := s.Range.String()
			ss.Range = &r
		}
		for _, r := range s.Replicas {
			sr := &stateReplica{
				Core:     r.Core,
				BaseURL:  r.BaseURL,
				NodeName: r.NodeName,
				State:    string(r.State),
				Type:     string(r.Type),
			}
			if r.IsLeader() {
				sr.Leader = "true"
			}
			ss.Replicas[r.Name] = sr
		}
		sc.Shards[s.Name] = ss
	}
	return map[string]any{c.Name: sc}
}

// sortedKeys orders keys naturally so that shard10 follows shard9.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareNatural)
	return keys
}

// compareNatural compares runs of digits by numeric value and everything
// else byte by byte.
func compareNatural(a, b string) int {
	for a != "" && b != "" {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, ra := digitRun(a)
			nb, rb := digitRun(b)
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if c := cmp.Compare(len(ta), len(tb)); c != 0 {
				return c
			}
			if c := strings.Compare(ta, tb); c != 0 {
				return c
			}
			if c := cmp.Compare(len(na), len(nb)); c != 0 {
				return c
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return cmp.Compare(a[0], b[0])
		}
		a, b = a[1:], b[1:]
	}
	return cmp.Compare(len(a), len(b))
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func digitRun(s string) (run, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}
