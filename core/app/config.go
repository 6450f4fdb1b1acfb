package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"
	promclient "github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/codewandler/shardroute/adapters/http"
	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/codec"
	"github.com/codewandler/shardroute/core/dispatch"
	"github.com/codewandler/shardroute/core/topology"
)

const (
	TransportHTTP = "http"
	TransportNATS = "nats"
)

// TopologyConfig names the single source of collection state: either the
// coordination ensemble or a list of nodes to poll.
type TopologyConfig struct {
	EnsembleAddrs []string `toml:"ensemble"`
	Chroot        string   `toml:"chroot"`
	// Bucket holding the ensemble namespace. Defaults to nats.DefaultBucket.
	Bucket   string   `toml:"bucket"`
	NodeURLs []string `toml:"nodes"`
}

type Config struct {
	Topology TopologyConfig `toml:"topology"`

	ReadRouting     dispatch.ReadRouting     `toml:"routing_mode"`
	UpdateTargeting dispatch.UpdateTargeting `toml:"update_targeting"`
	// ParallelUpdates defaults to true.
	ParallelUpdates *bool `toml:"parallel_updates"`
	MaxParallel     int   `toml:"max_parallel"`

	CacheTTLSeconds         int `toml:"collection_cache_ttl_seconds"`
	ConnectionTimeoutMillis int `toml:"connection_timeout_millis"`
	SocketTimeoutMillis     int `toml:"socket_timeout_millis"`
	// RequestTimeoutMillis bounds a whole dispatch. Zero leaves it to the
	// caller's context.
	RequestTimeoutMillis int `toml:"request_timeout_millis"`

	// Transport carries requests to replicas: "http" (default) or "nats",
	// which reuses the ensemble connection.
	Transport string `toml:"transport"`

	RequestCodec  codec.Codec  `toml:"-"`
	ResponseCodec codec.Codec  `toml:"-"`
	Log           *slog.Logger `toml:"-"`
	// Registerer enables Prometheus metrics when set.
	Registerer promclient.Registerer `toml:"-"`

	// Provider and ClientTransport replace the configured source and
	// transport, e.g. for embedding or tests. A Provider counts as the
	// topology source.
	Provider        topology.StateProvider  `toml:"-"`
	ClientTransport cluster.ClientTransport `toml:"-"`
}

func configError(field, reason string) error {
	return &dispatch.ConfigError{Field: field, Reason: reason}
}

// Validate checks the configuration without touching the network.
func (c Config) Validate() error {
	sources := 0
	if len(c.Topology.EnsembleAddrs) > 0 {
		sources++
	}
	if len(c.Topology.NodeURLs) > 0 {
		sources++
	}
	if c.Provider != nil {
		sources++
	}
	switch {
	case sources == 0:
		return configError("Topology", "either ensemble addresses or node URLs are required")
	case sources > 1:
		return configError("Topology", "ensemble addresses and node URLs are mutually exclusive")
	}

	if c.CacheTTLSeconds < 0 {
		return configError("CacheTTLSeconds", "must be positive")
	}
	if c.ConnectionTimeoutMillis < 0 || c.SocketTimeoutMillis < 0 || c.RequestTimeoutMillis < 0 {
		return configError("Timeouts", "must not be negative")
	}
	switch c.Transport {
	case "", TransportHTTP:
	case TransportNATS:
		if len(c.Topology.EnsembleAddrs) == 0 && c.ClientTransport == nil {
			return configError("Transport", "nats transport requires ensemble addresses")
		}
	default:
		return configError("Transport", fmt.Sprintf("unknown transport %q", c.Transport))
	}
	return c.dispatchConfig().Validate()
}

func (c Config) dispatchConfig() dispatch.Config {
	dc := dispatch.DefaultConfig()
	if c.ReadRouting != "" {
		dc.ReadRouting = c.ReadRouting
	}
	if c.UpdateTargeting != "" {
		dc.UpdateTargeting = c.UpdateTargeting
	}
	if c.ParallelUpdates != nil {
		dc.SequentialUpdates = !*c.ParallelUpdates
	}
	if c.MaxParallel != 0 {
		dc.MaxParallel = c.MaxParallel
	}
	dc.RequestTimeout = time.Duration(c.RequestTimeoutMillis) * time.Millisecond
	if c.RequestCodec != nil {
		dc.RequestCodec = c.RequestCodec
	}
	if c.ResponseCodec != nil {
		dc.ResponseCodec = c.ResponseCodec
	}
	return dc
}

// ParseConfigFile parses a TOML configuration file.
func ParseConfigFile(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// ParseConfig parses a TOML configuration string.
func ParseConfig(s string) (Config, error) {
	var c Config
	if _, err := toml.Decode(s, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// attemptTimeout bounds one attempt against one replica so a stalled node
// fails over to the next candidate.
func (c Config) attemptTimeout() time.Duration {
	connect := time.Duration(c.ConnectionTimeoutMillis) * time.Millisecond
	if connect <= 0 {
		connect = httpadapter.DefaultConnectTimeout
	}
	socket := time.Duration(c.SocketTimeoutMillis) * time.Millisecond
	if socket <= 0 {
		socket = httpadapter.DefaultSocketTimeout
	}
	return connect + socket
}
