// Package cluster executes requests against the replicas of a shard with
// load balancing and failover.
//
// # Architecture
//
//   - [Executor]: orders candidate endpoints and tries them until one answers
//   - [Transport]: carries an [Envelope] to an endpoint and returns the reply
//   - [Node]: hosts cores on a [ServerTransport], used to simulate index nodes
//
// An endpoint is a core address, the node base URL joined with the core name
// (see [JoinEndpoint]). Transports report unreachable endpoints as
// [*ConnectionError] and error replies as [*RemoteError].
//
// # Ordering
//
// [Executor.Order] arranges candidates before execution:
//
//   - [OrderLeaderFirst]: leaders first, followers rotated per call
//   - [OrderRoundRobin]: rotating start position
//   - [OrderAffinity]: rendezvous hashing on a key, stable per key
//
// Endpoints that recently failed to connect sink behind healthy ones in every
// mode. Hints are kept per endpoint and expire after [ExecutorOptions.HintTTL].
//
// # Failover
//
// [Executor.Execute] moves to the next candidate only on a connection error.
// A remote error is final for the request, since another replica would
// answer the same way. When every candidate fails to connect, the returned
// error wraps [ErrCandidatesExhausted].
//
//	exec, err := cluster.NewExecutor(cluster.ExecutorOptions{Transport: tr})
//	cands := exec.Order(candidates, cluster.OrderLeaderFirst, "")
//	out, err := exec.Execute(ctx, cands, cluster.NewEnvelope("/update", body))
//
// # Transports
//
// [MemoryTransport] connects clients and nodes in one process. The
// adapters/http and adapters/nats packages provide network transports.
package cluster
