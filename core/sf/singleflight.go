package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Singleflight deduplicates concurrent function calls with the same key.
// Only the first caller executes the function; others wait and receive
// the same result.
type Singleflight[T any] struct {
	group singleflight.Group
}

// Do executes fn for the given key, deduplicating concurrent calls.
// If a call is already in-flight for this key, Do blocks until it completes
// and returns the same result. The function fn is guaranteed to execute
// at most once per key at any given time.
func (s *Singleflight[T]) Do(key string, fn func() (*T, error)) (v *T, shared bool, err error) {
	res, err, shared := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, shared, err
	}
	return res.(*T), shared, nil
}

// DoContext is like Do but stops waiting when ctx is done. The in-flight call
// keeps running for the other waiters; fn should therefore not depend on the
// cancellation of any single caller's context.
func (s *Singleflight[T]) DoContext(ctx context.Context, key string, fn func() (*T, error)) (v *T, shared bool, err error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return fn()
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*T), res.Shared, nil
	}
}

// Forget drops the in-flight marker for key so the next call starts a new
// execution instead of joining the current one.
func (s *Singleflight[T]) Forget(key string) {
	s.group.Forget(key)
}

// New creates a new Singleflight instance for type T.
func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}
