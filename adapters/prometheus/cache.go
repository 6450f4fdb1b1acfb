package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardroute/core/cache"
	"github.com/codewandler/shardroute/core/metrics"
)

// cacheMetrics implements cache.Metrics using Prometheus.
type cacheMetrics struct {
	hits            *prometheus.CounterVec
	misses          *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
}

// NewCacheMetrics creates a new Prometheus implementation of cache.Metrics.
func NewCacheMetrics(reg prometheus.Registerer) cache.Metrics {
	m := &cacheMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardroute_state_cache_hits_total",
			Help: "Total number of state cache hits",
		}, []string{"collection"}),

		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardroute_state_cache_misses_total",
			Help: "Total number of state cache misses",
		}, []string{"collection"}),

		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardroute_state_refresh_duration_seconds",
			Help:    "Time to fetch collection state from the provider in seconds",
			Buckets: defaultBuckets,
		}, []string{"collection"}),

		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardroute_state_refreshes_total",
			Help: "Total number of state refreshes",
		}, []string{"collection", "success"}),

		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardroute_state_invalidations_total",
			Help: "Total number of explicit state invalidations",
		}, []string{"collection"}),
	}

	reg.MustRegister(
		m.hits,
		m.misses,
		m.refreshDuration,
		m.refreshes,
		m.invalidations,
	)

	return m
}

func (m *cacheMetrics) CacheHit(collection string) {
	m.hits.WithLabelValues(collection).Inc()
}

func (m *cacheMetrics) CacheMiss(collection string) {
	m.misses.WithLabelValues(collection).Inc()
}

func (m *cacheMetrics) RefreshDuration(collection string) metrics.Timer {
	return newTimer(m.refreshDuration.WithLabelValues(collection))
}

func (m *cacheMetrics) RefreshCompleted(collection string, success bool) {
	m.refreshes.WithLabelValues(collection, boolToStr(success)).Inc()
}

func (m *cacheMetrics) Invalidated(collection string) {
	m.invalidations.WithLabelValues(collection).Inc()
}

var _ cache.Metrics = (*cacheMetrics)(nil)
