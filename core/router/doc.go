// Package router maps documents, ids and route keys onto the shards of a
// collection snapshot.
//
// Two strategies exist. CompositeID hashes the id with murmur3 and picks the
// active shard whose range contains the hash; a "prefix!" id keeps all
// documents sharing the prefix together. Implicit reads the target shard name
// from the request or the document.
//
// Routers are stateless and never touch the network. A RoutingError means
// the snapshot could not place the key, which callers usually treat as a
// hint to refresh topology.
package router
