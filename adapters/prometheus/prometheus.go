// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the dispatcher, the executor and the state cache.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardroute/core/cache"
	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/dispatch"
	"github.com/codewandler/shardroute/core/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds the Prometheus implementations of every component.
type AllMetrics struct {
	Dispatch dispatch.Metrics
	Executor cluster.ExecutorMetrics
	Cache    cache.Metrics
}

// NewAllMetrics registers the metrics of every component with reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Dispatch: NewDispatchMetrics(reg),
		Executor: NewExecutorMetrics(reg),
		Cache:    NewCacheMetrics(reg),
	}
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
