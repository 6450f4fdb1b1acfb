package cluster

import (
	"errors"
	"fmt"
	"strings"
)

// StaleStateCode is the remote error code a node answers with when the
// request was routed using outdated collection state.
const StaleStateCode = 510

var (
	// Transport errors
	ErrTransportClosed   = errors.New("transport closed")
	ErrEndpointInUse     = errors.New("endpoint already served")
	ErrConnection        = errors.New("connection error")
	ErrConnectionRefused = errors.New("connection refused")

	// Envelope errors
	ErrReservedHeader = errors.New("cannot set reserved header")

	// Handler errors
	ErrHandlerTimeout = errors.New("handler exceeded deadline")

	// Executor errors
	ErrNoCandidates        = errors.New("no candidate endpoints")
	ErrCandidatesExhausted = errors.New("all candidate endpoints failed")
	ErrRemote              = errors.New("remote error")
)

// ConnectionError means the endpoint could not be reached or did not
// produce a response. The request may be retried on another replica.
type ConnectionError struct {
	Endpoint string
	Timeout  bool
	Err      error
}

func (e *ConnectionError) Error() string {
	kind := "connection failed"
	if e.Timeout {
		kind = "connection timed out"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", kind, e.Endpoint)
	}
	return fmt.Sprintf("%s: %s: %v", kind, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// RemoteError is a well-formed error response from a node.
type RemoteError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *RemoteError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %d from %s: %s", e.Code, e.Endpoint, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// Stale reports whether the node rejected the request because the client's
// view of the collection is out of date.
func (e *RemoteError) Stale() bool {
	return e.Code == StaleStateCode || strings.Contains(strings.ToLower(e.Message), "invalid state")
}

func IsConnectionError(err error) bool { return errors.Is(err, ErrConnection) }

// IsStale reports whether err carries a stale-state RemoteError.
func IsStale(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Stale()
}
