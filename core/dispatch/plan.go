package dispatch

import (
	"errors"
	"net/url"

	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/router"
	"github.com/codewandler/shardroute/core/topology"
)

// subRequest is the part of a request bound for one shard, or for the
// coordinating replica of a read.
type subRequest struct {
	shard *topology.Shard
	// read only: shards the coordinator must query, nil for all
	shards     []string
	candidates []cluster.Candidate
	ordering   cluster.Ordering
	affinity   string

	docs      []router.Document
	deleteIDs []string
	// broadcast subs carry the non-routable part of an update
	broadcast bool

	// set when the sub-request cannot be sent at all
	planErr error
}

func (s *subRequest) shardName() string {
	if s.shard == nil {
		return ""
	}
	return s.shard.Name
}

// updateItems is the routable content of an update.
type updateItems struct {
	docs   []router.Document
	ids    []string
	params url.Values
	// broadcastTo selects the shards receiving the non-routable part. nil
	// means no broadcast.
	broadcastTo func(*topology.Shard) bool
}

func (d *Dispatcher) planUpdate(col *topology.Collection, in updateItems) []*subRequest {
	rt, err := router.ForCollection(col)
	if err != nil {
		return []*subRequest{{docs: in.docs, deleteIDs: in.ids, planErr: err}}
	}

	var (
		subs    []*subRequest
		byShard = map[string]*subRequest{}
	)
	sub := func(s *topology.Shard) *subRequest {
		if sr, ok := byShard[s.Name]; ok {
			return sr
		}
		sr := &subRequest{shard: s, ordering: cluster.OrderLeaderFirst}
		sr.candidates, sr.planErr = d.updateCandidates(col, s)
		byShard[s.Name] = sr
		subs = append(subs, sr)
		return sr
	}

	docGroups, badDocs := router.Partition(col, rt, in.docs, func(doc router.Document) (string, router.Document) {
		return doc.ID(d.cfg.IDField), doc
	}, in.params)
	for _, g := range docGroups {
		sub(g.Shard).docs = g.Items
	}

	idGroups, badIDs := router.Partition(col, rt, in.ids, func(id string) (string, router.Document) {
		return id, nil
	}, in.params)
	for _, g := range idGroups {
		sr := sub(g.Shard)
		sr.deleteIDs = append(sr.deleteIDs, g.Items...)
	}

	// ids without a shard name can live on any shard of an implicit
	// collection, so the delete goes everywhere
	var anywhere []string
	for _, b := range badIDs {
		if errors.Is(b.Err, router.ErrNoShardName) {
			anywhere = append(anywhere, b.Item)
			continue
		}
		subs = append(subs, &subRequest{deleteIDs: []string{b.Item}, planErr: b.Err})
	}

	broadcastTo := in.broadcastTo
	if broadcastTo == nil && len(anywhere) > 0 {
		broadcastTo = func(*topology.Shard) bool { return true }
	}
	if broadcastTo != nil {
		for s := range col.ActiveShards() {
			if !broadcastTo(s) {
				continue
			}
			sr := sub(s)
			sr.broadcast = true
			sr.deleteIDs = append(sr.deleteIDs, anywhere...)
		}
	}

	for _, b := range badDocs {
		subs = append(subs, &subRequest{docs: []router.Document{b.Item}, planErr: b.Err})
	}
	return subs
}

func (d *Dispatcher) updateCandidates(col *topology.Collection, s *topology.Shard) ([]cluster.Candidate, error) {
	if d.cfg.UpdateTargeting == UpdateLeaderOnly {
		l := s.Leader()
		if l == nil {
			return nil, &router.RoutingError{Collection: col.Name, Shard: s.Name, Err: router.ErrNoLeader}
		}
		return []cluster.Candidate{{Endpoint: l.Endpoint(), Shard: s.Name, Leader: true}}, nil
	}

	var out []cluster.Candidate
	for r := range s.UsableReplicas() {
		out = append(out, cluster.Candidate{Endpoint: r.Endpoint(), Shard: s.Name, Leader: r.IsLeader()})
	}
	if len(out) == 0 {
		return nil, &router.RoutingError{Collection: col.Name, Shard: s.Name, Err: router.ErrNoReplica}
	}
	return out, nil
}

// planRead builds the single sub-request of a read. Any replica of a target
// shard can coordinate the distributed request.
func (d *Dispatcher) planRead(col *topology.Collection, req *Request) *subRequest {
	sr := &subRequest{affinity: req.AffinityKey}
	rt, err := router.ForCollection(col)
	if err != nil {
		sr.planErr = err
		return sr
	}

	keys := req.routeKeys()
	shards, err := rt.SearchShards(col, keys)
	if err != nil {
		sr.planErr = err
		return sr
	}
	if len(keys) > 0 {
		for _, s := range shards {
			sr.shards = append(sr.shards, s.Name)
		}
	}

	switch {
	case d.cfg.ReadRouting == ReadLeadersOnly:
		sr.ordering = cluster.OrderLeaderFirst
	case req.AffinityKey != "":
		sr.ordering = cluster.OrderAffinity
	default:
		sr.ordering = cluster.OrderRoundRobin
	}

	for _, s := range shards {
		for r := range s.UsableReplicas() {
			if d.cfg.ReadRouting == ReadLeadersOnly && !r.IsLeader() {
				continue
			}
			sr.candidates = append(sr.candidates, cluster.Candidate{Endpoint: r.Endpoint(), Shard: s.Name, Leader: r.IsLeader()})
		}
	}
	if len(sr.candidates) == 0 {
		cause := router.ErrNoReplica
		if d.cfg.ReadRouting == ReadLeadersOnly {
			cause = router.ErrNoLeader
		}
		sr.planErr = &router.RoutingError{Collection: col.Name, Err: cause}
	}
	return sr
}
