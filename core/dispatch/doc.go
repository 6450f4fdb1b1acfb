// Package dispatch turns one logical request against a collection into
// per-shard sub-requests, executes them on the replicas and reconciles the
// outcome.
//
// # Updates
//
// Documents and delete-by-id keys are partitioned with the collection's
// router. Each shard receives one sub-request holding exactly its items.
// Deletes by query and parameter-only updates such as commits go to every
// active shard. Candidate replicas follow [Config.UpdateTargeting]: with
// [UpdateLeaderOnly] a shard without a known leader fails without any
// network call.
//
// # Reads
//
// A read is sent to one replica, which coordinates the distributed search.
// Route keys (the _route_ param or [Request.RouteKeys]) narrow the candidate
// replicas and the shards param to the shards the keys map to.
//
// # Retry
//
// Stale-state replies, routing errors and shards whose replicas were all
// unreachable are retried once: the cached collection is dropped, the failed
// subset is routed again against fresh state and sent together. Failures
// after that are final and reported as a [*RouteError] carrying the partial
// [Result].
//
//	d, err := dispatch.New(dispatch.DefaultConfig(), dispatch.Deps{
//	    Cache:    stateCache,
//	    Executor: executor,
//	})
//	res, err := d.Dispatch(ctx, dispatch.NewUpdate("books", docs...))
package dispatch
