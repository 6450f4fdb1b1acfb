package topology

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codewandler/shardroute/ports/kv"
)

// Key layout inside an ensemble namespace:
//
//	<root>.collections.<name>    state.json of the collection
//	<root>.live_nodes.<node>     present while the node is live
const (
	collectionsToken = "collections"
	liveNodesToken   = "live_nodes"
)

// Root turns a chroot such as "/solr/prod" into the key prefix "solr.prod".
func Root(chroot string) string {
	chroot = strings.Trim(chroot, "/")
	return strings.ReplaceAll(chroot, "/", ".")
}

func join(root string, parts ...string) string {
	if root == "" {
		return strings.Join(parts, ".")
	}
	return root + "." + strings.Join(parts, ".")
}

func CollectionKey(chroot, name string) string {
	return join(Root(chroot), collectionsToken, name)
}

// LiveNodeKey encodes node names, which may contain ':' and '/', into a
// single key token.
func LiveNodeKey(chroot, node string) string {
	return join(Root(chroot), liveNodesToken, base64.RawURLEncoding.EncodeToString([]byte(node)))
}

// CollectionsPrefix is the common prefix of all collection state keys.
func CollectionsPrefix(chroot string) string {
	return join(Root(chroot), collectionsToken, "")
}

// CollectionFromKey returns the collection name of a collection state key.
func CollectionFromKey(chroot, key string) (string, bool) {
	return strings.CutPrefix(key, CollectionsPrefix(chroot))
}

type EnsembleOptions struct {
	Store  kv.Reader
	Chroot string
	Log    *slog.Logger
}

// EnsembleProvider reads collection state and live nodes from a key-value
// namespace maintained by the coordination ensemble.
type EnsembleProvider struct {
	store  kv.Reader
	chroot string
	log    *slog.Logger
}

func NewEnsembleProvider(opts EnsembleOptions) (*EnsembleProvider, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("topology: EnsembleOptions.Store is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &EnsembleProvider{
		store:  opts.Store,
		chroot: opts.Chroot,
		log:    log.With(slog.String("component", "ensemble_provider")),
	}, nil
}

func (p *EnsembleProvider) GetState(ctx context.Context, collection string) (*Collection, error) {
	entry, err := p.store.Get(ctx, CollectionKey(p.chroot, collection))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return nil, fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}

	live, err := p.LiveNodes(ctx)
	if err != nil {
		return nil, err
	}

	col, err := DecodeCollectionState(collection, entry.Data, live)
	if err != nil {
		return nil, err
	}
	if col.Version == 0 {
		col.Version = int64(entry.Revision)
	}
	p.log.Debug(
		"loaded state",
		slog.String("collection", collection),
		slog.Int64("version", col.Version),
		slog.Int("live_nodes", len(live)),
	)
	return col, nil
}

// LiveNodes returns the registered live nodes, or nil when none are
// registered and liveness is unknown.
func (p *EnsembleProvider) LiveNodes(ctx context.Context) ([]string, error) {
	prefix := join(Root(p.chroot), liveNodesToken, "")
	keys, err := p.store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list live nodes: %w", ErrStateUnavailable, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		name, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(k, prefix))
		if err != nil {
			p.log.Warn("skipping malformed live node key", slog.String("key", k))
			continue
		}
		out = append(out, string(name))
	}
	return out, nil
}

// Close is a no-op; the store belongs to the caller.
func (p *EnsembleProvider) Close() error { return nil }

var _ StateProvider = (*EnsembleProvider)(nil)

// PublishCollection writes c as the collection state in store.
func PublishCollection(ctx context.Context, store kv.Store, chroot string, c *Collection) (uint64, error) {
	return kv.Put(ctx, store, CollectionKey(chroot, c.Name), stateDocument(c))
}

func RegisterLiveNode(ctx context.Context, store kv.Store, chroot, node string) error {
	_, err := store.Put(ctx, LiveNodeKey(chroot, node), []byte(node))
	return err
}

func UnregisterLiveNode(ctx context.Context, store kv.Store, chroot, node string) error {
	return store.Delete(ctx, LiveNodeKey(chroot, node))
}
