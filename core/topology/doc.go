// Package topology models the cluster layout a routing client works from:
// collections split into shards, each shard hosted by replicas on nodes.
//
// A [Collection] is an immutable snapshot. Providers build a fresh one on
// every fetch and callers never modify what they receive; use
// [Collection.Clone] to derive a changed copy.
//
// # Providers
//
// [StateProvider] is the contract every topology source implements. This
// package ships [StaticProvider] and [EnsembleProvider], which reads state
// published into a key-value namespace ([PublishCollection],
// [RegisterLiveNode]). The adapters/http package polls nodes directly and
// adapters/nats backs the ensemble namespace with JetStream.
//
// # Wire format
//
// [DecodeCollectionState] and [DecodeClusterStatus] parse the JSON state the
// cluster publishes. Shard ranges are inclusive hex pairs on the wire and
// half-open [Range] values in memory.
package topology
