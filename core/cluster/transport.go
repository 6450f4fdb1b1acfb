package cluster

import (
	"context"
	"strings"
)

type Subscription interface {
	Unsubscribe() error
}

type ServerHandlerFunc = func(ctx context.Context, env Envelope) ([]byte, error)

type ClientTransport interface {
	// Request sends env to endpoint and waits for the reply. Failures to
	// reach the endpoint are reported as *ConnectionError, error replies as
	// *RemoteError.
	Request(ctx context.Context, endpoint string, env Envelope) ([]byte, error)

	Close() error
}

type ServerTransport interface {
	// Serve delivers envelopes addressed to endpoint until the subscription
	// is removed or ctx is done.
	Serve(ctx context.Context, endpoint string, h ServerHandlerFunc) (Subscription, error)

	Close() error
}

// Transport carries requests to endpoints and lets nodes serve them.
type Transport interface {
	ClientTransport
	ServerTransport
}

// JoinEndpoint builds the endpoint of a core hosted at baseURL.
func JoinEndpoint(baseURL, core string) string {
	base := strings.TrimRight(baseURL, "/")
	if core == "" {
		return base
	}
	return base + "/" + core
}
