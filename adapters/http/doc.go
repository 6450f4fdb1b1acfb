// Package http talks to index nodes over HTTP.
//
// [Transport] implements cluster.ClientTransport: an envelope sent to an
// endpoint becomes a request to endpoint + envelope path with the envelope
// params as query. Unreachable nodes, timeouts and truncated replies become
// *cluster.ConnectionError, non-2xx replies *cluster.RemoteError.
//
// [Provider] polls collection state from a fixed node list and
// [AdminClient] wraps the core admin API. [NewNodeHandler] is the server
// side used by tests and demos.
package http
