package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/multierr"
)

// CoreHandlerFunc handles a request addressed to one core of a node.
type CoreHandlerFunc func(ctx context.Context, core string, env Envelope) ([]byte, error)

type (
	NodeOptions struct {
		Log *slog.Logger
		// BaseURL identifies the node. Defaults to mem://node-<random>.
		BaseURL   string
		Transport ServerTransport
		Cores     []string
		Handler   CoreHandlerFunc
		// AdminHandler serves requests addressed to the node itself.
		AdminHandler ServerHandlerFunc
	}

	// Node hosts cores on a ServerTransport. It stands in for a real index
	// node in tests and demos.
	Node struct {
		log      *slog.Logger
		baseURL  string
		t        ServerTransport
		h        CoreHandlerFunc
		admin    ServerHandlerFunc
		cores    []string
		mu       sync.Mutex
		subs     []Subscription
		stopNode context.CancelFunc
	}
)

func NewNode(opts NodeOptions) *Node {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("mem://node-%s", gonanoid.Must(6))
	}

	hdl := opts.Handler
	if hdl == nil {
		hdl = func(ctx context.Context, core string, env Envelope) ([]byte, error) {
			return nil, fmt.Errorf("no handler registered")
		}
	}

	return &Node{
		log:     log.With(slog.String("node", baseURL)),
		baseURL: baseURL,
		t:       opts.Transport,
		h:       hdl,
		admin:   opts.AdminHandler,
		cores:   opts.Cores,
	}
}

func (n *Node) BaseURL() string { return n.baseURL }

func (n *Node) Endpoint(core string) string { return JoinEndpoint(n.baseURL, core) }

func (n *Node) handle(core string) ServerHandlerFunc {
	return func(ctx context.Context, env Envelope) ([]byte, error) {
		n.log.Debug(
			"handle",
			slog.String("core", core),
			slog.Group(
				"envelope",
				slog.String("id", env.ID),
				slog.String("path", env.Path),
				slog.Any("params", env.Params),
			),
		)
		data, err := n.h(ctx, core, env)
		if err != nil {
			n.log.Debug("handler failed", slog.String("core", core), slog.Any("error", err))
		}
		return data, err
	}
}

// Run serves the node's cores until ctx is done or Stop is called.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopNode != nil {
		return fmt.Errorf("node %s already running", n.baseURL)
	}
	ctx, cancel := context.WithCancel(ctx)

	n.log.Info("starting node", slog.Int("num_cores", len(n.cores)))
	if n.admin != nil {
		s, err := n.t.Serve(ctx, n.baseURL, n.admin)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to serve node endpoint: %w", err)
		}
		n.subs = append(n.subs, s)
	}
	for _, core := range n.cores {
		s, err := n.t.Serve(ctx, n.Endpoint(core), n.handle(core))
		if err != nil {
			cancel()
			n.subs = nil
			return fmt.Errorf("failed to serve core %s: %w", core, err)
		}
		n.subs = append(n.subs, s)
	}
	n.stopNode = cancel
	return nil
}

// Stop takes the node off the transport. Requests to its endpoints then
// fail to connect, as if the node had crashed.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var err error
	for _, s := range n.subs {
		err = multierr.Append(err, s.Unsubscribe())
	}
	n.subs = nil
	if n.stopNode != nil {
		n.stopNode()
		n.stopNode = nil
	}
	return err
}
