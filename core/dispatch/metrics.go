package dispatch

import "github.com/codewandler/shardroute/core/metrics"

// Dispatch outcomes reported to Metrics.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Metrics defines the metrics interface for the dispatcher.
// All methods are thread-safe.
type Metrics interface {
	DispatchDuration(kind string) metrics.Timer
	DispatchCompleted(kind, outcome string)
	SubRequests(kind string, n int)
	StaleRetry(collection string)
}

type nopMetrics struct{}

func (nopMetrics) DispatchDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) DispatchCompleted(string, string)      {}
func (nopMetrics) SubRequests(string, int)               {}
func (nopMetrics) StaleRetry(string)                     {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
