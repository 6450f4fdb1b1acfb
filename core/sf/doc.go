// Package sf provides a generic single-flight mechanism for deduplicating
// concurrent function calls with the same key.
//
// Single-flight ensures that only one execution of a function is in-flight
// for a given key at a time. If multiple goroutines call [Singleflight.Do]
// with the same key concurrently, only the first call executes the function;
// subsequent callers block until the first call completes and then receive
// the same result.
//
// [Singleflight.DoContext] lets each waiter give up on its own deadline
// without cancelling the shared execution. The collection state cache uses it
// so a slow topology fetch is never started twice for one collection.
//
// # Usage
//
//	flight := sf.New[topology.Collection]()
//
//	col, _, err := flight.DoContext(ctx, "books", func() (*topology.Collection, error) {
//	    return provider.GetState(fetchCtx, "books")
//	})
package sf
