package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardroute/core/dispatch"
	"github.com/codewandler/shardroute/core/metrics"
)

// dispatchMetrics implements dispatch.Metrics using Prometheus.
type dispatchMetrics struct {
	duration    *prometheus.HistogramVec
	total       *prometheus.CounterVec
	subRequests *prometheus.HistogramVec
	staleRetry  *prometheus.CounterVec
}

// NewDispatchMetrics creates a new Prometheus implementation of dispatch.Metrics.
func NewDispatchMetrics(reg prometheus.Registerer) dispatch.Metrics {
	m := &dispatchMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardroute_dispatch_duration_seconds",
			Help:    "Dispatch latency in seconds, including the retry",
			Buckets: defaultBuckets,
		}, []string{"kind"}),

		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardroute_dispatch_total",
			Help: "Total number of dispatched requests by outcome",
		}, []string{"kind", "outcome"}),

		subRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardroute_dispatch_sub_requests",
			Help:    "Number of sub-requests a request fanned out to",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"kind"}),

		staleRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardroute_dispatch_stale_retries_total",
			Help: "Total number of retries after refreshing collection state",
		}, []string{"collection"}),
	}

	reg.MustRegister(
		m.duration,
		m.total,
		m.subRequests,
		m.staleRetry,
	)

	return m
}

func (m *dispatchMetrics) DispatchDuration(kind string) metrics.Timer {
	return newTimer(m.duration.WithLabelValues(kind))
}

func (m *dispatchMetrics) DispatchCompleted(kind, outcome string) {
	m.total.WithLabelValues(kind, outcome).Inc()
}

func (m *dispatchMetrics) SubRequests(kind string, n int) {
	m.subRequests.WithLabelValues(kind).Observe(float64(n))
}

func (m *dispatchMetrics) StaleRetry(collection string) {
	m.staleRetry.WithLabelValues(collection).Inc()
}

var _ dispatch.Metrics = (*dispatchMetrics)(nil)
