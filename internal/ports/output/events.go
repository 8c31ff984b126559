package output

import (
	"context"

	"github.com/terralab/strata/internal/domain"
)

// JobEvent is published when a job reaches a terminal state.
type JobEvent struct {
	JobID   string           `json:"job_id"`
	LayerID string           `json:"layer_id"`
	Status  domain.JobStatus `json:"status"`
	Error   string           `json:"error,omitempty"`
}

// EventPublisher defines the secondary port for job lifecycle events.
// Publishing is best-effort; the job store is the source of truth and
// polling clients never depend on events.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error

	// Close releases the underlying transport.
	Close() error
}

// NoOpPublisher discards all events.
type NoOpPublisher struct{}

// PublishJobEvent implements EventPublisher.
func (n *NoOpPublisher) PublishJobEvent(_ context.Context, _ JobEvent) error { return nil }

// Close implements EventPublisher.
func (n *NoOpPublisher) Close() error { return nil }
