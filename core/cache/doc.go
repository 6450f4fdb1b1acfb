// Package cache keeps time-bounded snapshots of collection topology so the
// request path does not round-trip to the topology source on every call.
//
// Snapshots are immutable and live in a map that is replaced wholesale on
// every change (copy-on-write behind an atomic pointer). Readers never lock
// and always see a complete snapshot.
//
// When an entry is missing or older than the TTL, [Cache.Get] fetches a new
// one from the [topology.StateProvider]. Concurrent callers asking for the
// same collection share one fetch:
//
//	c, _ := cache.New(provider, cache.Options{TTLSeconds: 30})
//	col, err := c.Get(ctx, "books")
//
// [Cache.Invalidate] drops an entry, typically after a server reported that
// the caller routed with stale state.
package cache
