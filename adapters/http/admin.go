package http

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strconv"

	"github.com/codewandler/shardroute/core/cluster"
)

const PathCores = "/cores"

// AnyExecutor sends a request to one of several interchangeable endpoints.
type AnyExecutor interface {
	ExecuteAny(ctx context.Context, endpoints []string, env cluster.Envelope) (cluster.Outcome, error)
}

// AdminClient calls the core admin API of whichever node answers first.
type AdminClient struct {
	exec  AnyExecutor
	nodes func() []string
}

// NewAdminClient spreads admin calls over the nodes returned by nodes.
func NewAdminClient(exec AnyExecutor, nodes func() []string) *AdminClient {
	return &AdminClient{exec: exec, nodes: nodes}
}

// CreateCore creates a core on a node. params are sent as a JSON object,
// e.g. name, collection, shard.
func (a *AdminClient) CreateCore(ctx context.Context, params url.Values) ([]byte, error) {
	body := make(map[string]string, len(params))
	for k := range params {
		body[k] = params.Get(k)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	env := cluster.NewEnvelope(PathCores, data)
	env.Method = nethttp.MethodPost
	env.ContentType = "application/json"
	return a.call(ctx, env)
}

// CoreStatus returns the status of one core, or of all cores when coreName
// is empty.
func (a *AdminClient) CoreStatus(ctx context.Context, coreName string, indexInfo bool) ([]byte, error) {
	path := PathCores
	if coreName != "" {
		path += "/" + url.PathEscape(coreName)
	}
	env := cluster.NewEnvelope(path, nil, cluster.WithParam("indexInfo", strconv.FormatBool(indexInfo)))
	env.Method = nethttp.MethodGet
	return a.call(ctx, env)
}

func (a *AdminClient) call(ctx context.Context, env cluster.Envelope) ([]byte, error) {
	nodes := a.nodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("admin %s: %w", env.Path, cluster.ErrNoCandidates)
	}
	out, err := a.exec.ExecuteAny(ctx, nodes, env)
	if err != nil {
		return nil, fmt.Errorf("admin %s: %w", env.Path, err)
	}
	return out.Data, nil
}
