package topology

import "errors"

var (
	// ErrStateUnavailable is returned when no topology source could be reached.
	ErrStateUnavailable = errors.New("cluster state unavailable")
	// ErrCollectionNotFound is returned when the source answered but does not
	// know the collection.
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidState       = errors.New("invalid cluster state")
	ErrProviderClosed     = errors.New("state provider closed")
)
