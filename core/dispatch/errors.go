package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/router"
)

var (
	ErrConfiguration = errors.New("invalid configuration")
	// ErrTimeout is reported for sub-requests still pending when the
	// request deadline passed.
	ErrTimeout = errors.New("request timed out")
	// ErrAborted is reported for sub-requests never sent because an earlier
	// one failed fatally in sequential mode.
	ErrAborted = errors.New("aborted after earlier failure")
)

// ConfigError rejects a configuration before any network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// Failure is one sub-request that did not succeed.
type Failure struct {
	// Shard is empty when the items could not be mapped to any shard.
	Shard string
	// Endpoint is the last endpoint tried, if any.
	Endpoint string
	Attempts []cluster.Attempt
	Err      error
}

func (f Failure) String() string {
	var b strings.Builder
	if f.Shard != "" {
		b.WriteString(f.Shard)
	} else {
		b.WriteString("(unrouted)")
	}
	if f.Endpoint != "" {
		b.WriteString(" at ")
		b.WriteString(f.Endpoint)
	}
	b.WriteString(": ")
	b.WriteString(f.Err.Error())
	return b.String()
}

// RouteError reports sub-requests that still failed after the retry. Partial
// holds whatever succeeded.
type RouteError struct {
	Collection string
	Failures   []Failure
	Succeeded  int
	Failed     int
	Partial    *Result
}

func (e *RouteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "route %s: %d of %d sub-requests failed", e.Collection, e.Failed, e.Failed+e.Succeeded)
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.String())
	}
	return b.String()
}

func (e *RouteError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// retryable reports whether err may be fixed by refreshing collection state.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrAborted):
		return false
	case cluster.IsStale(err):
		return true
	case errors.Is(err, router.ErrRouting):
		return true
	case errors.Is(err, cluster.ErrCandidatesExhausted):
		return true
	default:
		return false
	}
}
