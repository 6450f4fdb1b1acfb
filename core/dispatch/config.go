package dispatch

import (
	"fmt"
	"time"

	"github.com/codewandler/shardroute/core/codec"
	"github.com/codewandler/shardroute/core/router"
)

// ReadRouting selects which replicas may coordinate a read.
type ReadRouting string

const (
	ReadLeadersOnly ReadRouting = "leaders-only"
	ReadAnyReplica  ReadRouting = "any-replica"
)

// UpdateTargeting selects which replicas may receive a shard's updates.
type UpdateTargeting string

const (
	// UpdateLeaderOnly sends updates to the shard leader and fails fast
	// when no leader is known.
	UpdateLeaderOnly UpdateTargeting = "direct-to-leader-only"
	// UpdateAnyReplica prefers the leader but falls back to other replicas.
	UpdateAnyReplica UpdateTargeting = "direct-to-any-replica"
)

const (
	DefaultMaxParallel = 16
	// StateVersionParam carries the collection state version a request was
	// routed with, as "<collection>:<version>".
	StateVersionParam = "_stateVer_"
)

type Config struct {
	ReadRouting     ReadRouting
	UpdateTargeting UpdateTargeting
	// SequentialUpdates sends the sub-requests of a multi-shard update one
	// at a time, in shard order, and the first fatal error aborts the rest.
	// By default they run concurrently.
	SequentialUpdates bool
	// MaxParallel bounds concurrent sub-requests per dispatch.
	MaxParallel int
	// RequestTimeout bounds a whole dispatch unless the request sets its own.
	RequestTimeout time.Duration
	// IDField is the unique key field of documents.
	IDField       string
	RequestCodec  codec.Codec
	ResponseCodec codec.Codec
}

// DefaultConfig returns the configuration New assumes for unset fields.
func DefaultConfig() Config {
	return Config{
		ReadRouting:     ReadAnyReplica,
		UpdateTargeting: UpdateAnyReplica,
		MaxParallel:     DefaultMaxParallel,
		IDField:         router.DefaultIDField,
		RequestCodec:    codec.Default,
		ResponseCodec:   codec.Default,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadRouting == "" {
		c.ReadRouting = d.ReadRouting
	}
	if c.UpdateTargeting == "" {
		c.UpdateTargeting = d.UpdateTargeting
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.IDField == "" {
		c.IDField = d.IDField
	}
	if c.RequestCodec == nil {
		c.RequestCodec = d.RequestCodec
	}
	if c.ResponseCodec == nil {
		c.ResponseCodec = d.ResponseCodec
	}
	return c
}

// Validate reports the first invalid field as a *ConfigError.
func (c Config) Validate() error {
	switch c.ReadRouting {
	case ReadLeadersOnly, ReadAnyReplica, "":
	default:
		return &ConfigError{Field: "ReadRouting", Reason: fmt.Sprintf("unknown mode %q", c.ReadRouting)}
	}
	switch c.UpdateTargeting {
	case UpdateLeaderOnly, UpdateAnyReplica, "":
	default:
		return &ConfigError{Field: "UpdateTargeting", Reason: fmt.Sprintf("unknown mode %q", c.UpdateTargeting)}
	}
	if c.MaxParallel < 0 {
		return &ConfigError{Field: "MaxParallel", Reason: "must not be negative"}
	}
	if c.RequestTimeout < 0 {
		return &ConfigError{Field: "RequestTimeout", Reason: "must not be negative"}
	}
	return nil
}
