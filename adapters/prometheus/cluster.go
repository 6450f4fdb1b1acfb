package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardroute/core/cluster"
	"github.com/codewandler/shardroute/core/metrics"
)

// executorMetrics implements cluster.ExecutorMetrics using Prometheus.
type executorMetrics struct {
	attemptDuration prometheus.Histogram
	attemptsTotal   *prometheus.CounterVec
	failoversTotal  prometheus.Counter
	exhaustedTotal  prometheus.Counter
}

// NewExecutorMetrics creates a new Prometheus implementation of ExecutorMetrics.
func NewExecutorMetrics(reg prometheus.Registerer) cluster.ExecutorMetrics {
	m := &executorMetrics{
		attemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shardroute_executor_attempt_duration_seconds",
			Help:    "Latency of single endpoint attempts in seconds",
			Buckets: defaultBuckets,
		}),

		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardroute_executor_attempts_total",
			Help: "Total number of endpoint attempts by outcome",
		}, []string{"outcome"}),

		failoversTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardroute_executor_failovers_total",
			Help: "Total number of failovers to the next candidate endpoint",
		}),

		exhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardroute_executor_exhausted_total",
			Help: "Total number of requests for which every candidate was unreachable",
		}),
	}

	reg.MustRegister(
		m.attemptDuration,
		m.attemptsTotal,
		m.failoversTotal,
		m.exhaustedTotal,
	)

	return m
}

func (m *executorMetrics) AttemptDuration() metrics.Timer {
	return newTimer(m.attemptDuration)
}

func (m *executorMetrics) AttemptCompleted(outcome string) {
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *executorMetrics) Failover() { m.failoversTotal.Inc() }

func (m *executorMetrics) Exhausted() { m.exhaustedTotal.Inc() }

var _ cluster.ExecutorMetrics = (*executorMetrics)(nil)
