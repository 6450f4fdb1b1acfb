package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardroute/core/topology"
)

func CreateInMemoryTransport(t *testing.T) *MemoryTransport {
	tr := NewInMemoryTransport()
	t.Cleanup(func() {
		require.NoError(t, tr.Close())
	})
	return tr
}

// CreateTestNodes starts one Node per distinct base URL in col, each hosting
// the cores col places on it. Nodes are keyed by base URL.
func CreateTestNodes(
	t *testing.T,
	tr ServerTransport,
	col *topology.Collection,
	h CoreHandlerFunc,
) map[string]*Node {
	cores := map[string][]string{}
	var order []string
	for _, s := range col.Shards {
		for _, r := range s.Replicas {
			if _, ok := cores[r.BaseURL]; !ok {
				order = append(order, r.BaseURL)
			}
			cores[r.BaseURL] = append(cores[r.BaseURL], r.Core)
		}
	}

	nodes := make(map[string]*Node, len(order))
	for _, base := range order {
		n := NewNode(NodeOptions{
			BaseURL:   base,
			Transport: tr,
			Cores:     cores[base],
			Handler:   h,
		})
		require.NoError(t, n.Run(t.Context()))
		t.Cleanup(func() { _ = n.Stop() })
		nodes[base] = n
	}
	return nodes
}
