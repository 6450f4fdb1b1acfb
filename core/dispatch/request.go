package dispatch

import (
	"net/url"
	"strings"
	"time"

	"github.com/codewandler/shardroute/core/router"
)

const (
	PathUpdate = "/update"
	PathSelect = "/select"
	PathGet    = "/get"
)

// Request is one logical read or update against a collection.
type Request struct {
	Collection string
	// Path is the handler on the target cores. Defaults to /update for
	// requests carrying documents or deletes, /select otherwise.
	Path   string
	Params url.Values

	Documents     []router.Document
	DeleteIDs     []string
	DeleteQueries []string

	// RouteKeys narrow a read to the shards the keys route to. Values of the
	// _route_ param are used as well.
	RouteKeys []string
	// AffinityKey pins reads with the same key to the same replica.
	AffinityKey string

	// Timeout overrides Config.RequestTimeout.
	Timeout time.Duration
}

// NewUpdate adds or replaces documents.
func NewUpdate(collection string, docs ...router.Document) *Request {
	return &Request{Collection: collection, Path: PathUpdate, Documents: docs}
}

func NewDeleteByID(collection string, ids ...string) *Request {
	return &Request{Collection: collection, Path: PathUpdate, DeleteIDs: ids}
}

func NewDeleteByQuery(collection string, queries ...string) *Request {
	return &Request{Collection: collection, Path: PathUpdate, DeleteQueries: queries}
}

// NewCommit makes pending updates visible on every shard.
func NewCommit(collection string) *Request {
	return &Request{Collection: collection, Path: PathUpdate, Params: url.Values{"commit": {"true"}}}
}

func NewQuery(collection string, params url.Values) *Request {
	return &Request{Collection: collection, Path: PathSelect, Params: params}
}

func (r *Request) IsUpdate() bool {
	if len(r.Documents) > 0 || len(r.DeleteIDs) > 0 || len(r.DeleteQueries) > 0 {
		return true
	}
	return strings.HasPrefix(r.Path, PathUpdate)
}

func (r *Request) path() string {
	if r.Path != "" {
		return r.Path
	}
	if r.IsUpdate() {
		return PathUpdate
	}
	return PathSelect
}

func (r *Request) kind() string {
	if r.IsUpdate() {
		return "update"
	}
	return "read"
}

func (r *Request) routeKeys() []string {
	keys := append([]string(nil), r.RouteKeys...)
	return append(keys, r.Params[router.RouteParam]...)
}

// UpdateBody is the payload of an update sub-request.
type UpdateBody struct {
	Add           []router.Document `json:"add,omitempty"`
	Delete        []string          `json:"delete,omitempty"`
	DeleteByQuery []string          `json:"deleteByQuery,omitempty"`
}

// ShardResponse is the reply of one successful sub-request.
type ShardResponse struct {
	// Shard is empty for reads, which one replica coordinates.
	Shard    string
	Endpoint string
	Data     []byte
	Attempts int
}

type Result struct {
	RequestID  string
	Collection string
	// Version of the collection state the request was finally routed with.
	Version   int64
	Retried   bool
	Responses []ShardResponse
	// Merged is the decoded logical response. Updates get a combined
	// responseHeader plus the per-shard responses, reads the coordinator's
	// response as is.
	Merged map[string]any
}

func (r *Result) Succeeded() int { return len(r.Responses) }
