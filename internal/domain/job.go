package domain

import "time"

// JobStatus represents the lifecycle state of an asynchronous job.
type JobStatus string

// Job states. Transitions are queued -> processing -> terminal, with
// queued -> cancelled also allowed (cancel before pickup).
const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ValidJobTransition enforces the allowed job state machine edges.
func ValidJobTransition(from, to JobStatus) bool {
	switch from {
	case JobQueued:
		return to == JobProcessing || to == JobCancelled
	case JobProcessing:
		return to == JobCompleted || to == JobFailed || to == JobCancelled
	default:
		return false
	}
}

// JobMetadata carries free-form details about a job: the original
// filename, output references, error text, computed bounds.
type JobMetadata struct {
	SourceFileName string        `json:"source_file_name,omitempty"`
	ImageFile      string        `json:"image_file,omitempty"`
	WorldFile      string        `json:"world_file,omitempty"`
	ProjectionFile string        `json:"projection_file,omitempty"`
	Bounds         *LatLngBounds `json:"bounds,omitempty"`
	Artifacts      *ArtifactSet  `json:"artifacts,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Job tracks one asynchronous processing request, independent of the
// layer it targets: a layer may be reprocessed, producing a new job.
type Job struct {
	ID        string      `json:"id"`
	LayerID   string      `json:"layer_id"`
	Status    JobStatus   `json:"status"`
	Progress  int         `json:"progress"` // 0-100, monotonic non-decreasing
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Metadata  JobMetadata `json:"metadata"`
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Stalled reports whether a processing job has gone without updates for
// longer than the given window. Stalled jobs are surfaced for operators;
// they are never auto-failed.
func (j *Job) Stalled(window time.Duration, now time.Time) bool {
	if window <= 0 || j.Status != JobProcessing {
		return false
	}
	return now.Sub(j.UpdatedAt) > window
}

// QueueStats is a read-only snapshot of job store activity.
type QueueStats struct {
	Active       int `json:"active"` // queued + processing
	Queued       int `json:"queued"`
	Processing   int `json:"processing"`
	Completed24h int `json:"completed_24h"`
	Failed24h    int `json:"failed_24h"`
	Cancelled24h int `json:"cancelled_24h"`
}
