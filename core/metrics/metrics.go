// Package metrics provides the backend-neutral pieces shared by the metrics
// interfaces of the core packages. Implementations live in adapters, e.g.
// adapters/prometheus.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	// ObserveDuration records the elapsed time since the timer was created.
	ObserveDuration()
}
