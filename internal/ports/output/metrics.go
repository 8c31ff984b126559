package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncJobsTotal increments the completed-job counter by outcome
	// (completed, failed, cancelled).
	IncJobsTotal(outcome string)

	// ObserveJobDuration records end-to-end job processing duration.
	ObserveJobDuration(duration time.Duration)

	// SetJobsActive sets the number of queued plus processing jobs.
	SetJobsActive(count int)

	// SetLayersTotal sets the number of registered layers by status.
	SetLayersTotal(status string, count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncJobsTotal implements MetricsCollector.
func (n *NoOpMetrics) IncJobsTotal(_ string) {}

// ObserveJobDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveJobDuration(_ time.Duration) {}

// SetJobsActive implements MetricsCollector.
func (n *NoOpMetrics) SetJobsActive(_ int) {}

// SetLayersTotal implements MetricsCollector.
func (n *NoOpMetrics) SetLayersTotal(_ string, _ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
