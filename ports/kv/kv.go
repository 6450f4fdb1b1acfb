package kv

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

type Entry struct {
	Key  string
	Data []byte
	// Revision increases with every write to the namespace.
	Revision uint64
}

// Reader is read-only access to a key namespace.
type Reader interface {
	Get(ctx context.Context, key string) (Entry, error)
	// Keys returns the keys starting with prefix in lexical order. Prefixes
	// end at a token boundary, e.g. "live_nodes.".
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type Store interface {
	Reader
	Put(ctx context.Context, key string, data []byte) (revision uint64, err error)
	Delete(ctx context.Context, key string) error
}

// Put stores v as JSON under key.
func Put[T any](ctx context.Context, store Store, key string, v T) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return store.Put(ctx, key, data)
}
