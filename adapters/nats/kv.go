package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/shardroute/ports/kv"
)

const DefaultBucket = "shardroute_state"

type KvConfig struct {
	Connect Connector // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Bucket  string    // Bucket defaults to DefaultBucket.
	Log     *slog.Logger
}

// KV is a kv.Store backed by a JetStream key-value bucket.
type KV struct {
	kv      jetstream.KeyValue
	log     *slog.Logger
	closeNc closeFunc
}

func NewKV(ctx context.Context, cfg KvConfig) (*KV, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	store, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("nats: open bucket %s: %w", bucket, err)
	}

	return &KV{
		kv:      store,
		log:     log.With(slog.String("bucket", bucket)),
		closeNc: closeNc,
	}, nil
}

func (k *KV) Put(ctx context.Context, key string, data []byte) (uint64, error) {
	return k.kv.Put(ctx, key, data)
}

func (k *KV) Get(ctx context.Context, key string) (kv.Entry, error) {
	e, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("nats: get %s: %w", key, err)
	}
	return kv.Entry{Key: e.Key(), Data: e.Value(), Revision: e.Revision()}, nil
}

func (k *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := k.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("nats: list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var out []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	return k.kv.Delete(ctx, key)
}

// Watch calls fn for every change of a key below prefix until ctx is done.
// Existing values are not replayed. fn runs on a single goroutine.
func (k *KV) Watch(ctx context.Context, prefix string, fn func(e kv.Entry, deleted bool)) error {
	w, err := k.kv.Watch(ctx, prefix+">", jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("nats: watch %s: %w", prefix, err)
	}

	go func() {
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Updates():
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				deleted := e.Operation() != jetstream.KeyValuePut
				k.log.Debug(
					"key changed",
					slog.String("key", e.Key()),
					slog.Uint64("revision", e.Revision()),
					slog.Bool("deleted", deleted),
				)
				fn(kv.Entry{Key: e.Key(), Data: e.Value(), Revision: e.Revision()}, deleted)
			}
		}
	}()
	return nil
}

func (k *KV) Close() error {
	k.closeNc()
	return nil
}

var _ kv.Store = (*KV)(nil)
