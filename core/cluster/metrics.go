package cluster

import "github.com/codewandler/shardroute/core/metrics"

// Attempt outcomes reported to ExecutorMetrics.
const (
	OutcomeOK         = "ok"
	OutcomeConnection = "connection"
	OutcomeRemote     = "remote"
)

// ExecutorMetrics defines the metrics interface for the executor.
// All methods are thread-safe.
type ExecutorMetrics interface {
	AttemptDuration() metrics.Timer
	// AttemptCompleted is called once per endpoint tried.
	AttemptCompleted(outcome string)
	// Failover is called when a request moves on to the next candidate.
	Failover()
	Exhausted()
}

type nopExecutorMetrics struct{}

func (nopExecutorMetrics) AttemptDuration() metrics.Timer { return metrics.NopTimer() }
func (nopExecutorMetrics) AttemptCompleted(string)        {}
func (nopExecutorMetrics) Failover()                      {}
func (nopExecutorMetrics) Exhausted()                     {}

// NopExecutorMetrics returns a no-op ExecutorMetrics implementation.
func NopExecutorMetrics() ExecutorMetrics { return nopExecutorMetrics{} }
