package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/ports/output"
)

// DefaultStallWindow is how long a processing job may go without a
// progress update before it is reported as stalled.
const DefaultStallWindow = 5 * time.Minute

// JobStore tracks asynchronous processing jobs. It owns the job state
// machine: every transition goes through this type, under one lock, so
// a job reaches exactly one terminal state.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	cancels map[string]context.CancelFunc
	jobCtxs map[string]context.Context
	started map[string]time.Time

	store       output.LayerStore
	metrics     output.MetricsCollector
	logger      *slog.Logger
	stallWindow time.Duration
}

// NewJobStore creates a new job store.
func NewJobStore(store output.LayerStore, metrics output.MetricsCollector, logger *slog.Logger) *JobStore {
	return &JobStore{
		jobs:        make(map[string]*domain.Job),
		cancels:     make(map[string]context.CancelFunc),
		jobCtxs:     make(map[string]context.Context),
		started:     make(map[string]time.Time),
		store:       store,
		metrics:     metrics,
		logger:      logger,
		stallWindow: DefaultStallWindow,
	}
}

// SetStallWindow overrides the stalled-job reporting window.
func (s *JobStore) SetStallWindow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallWindow = d
}

// LoadAll restores persisted jobs. Jobs that were queued or processing
// when the process stopped cannot be resumed; they are marked failed so
// clients polling them see a terminal state instead of waiting forever.
// It returns the layer IDs of the interrupted jobs so the caller can
// settle the layers they were working on.
func (s *JobStore) LoadAll(ctx context.Context) ([]string, error) {
	if s.store == nil {
		return nil, nil
	}

	jobs, err := s.store.LoadJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading jobs: %w", err)
	}

	var interrupted []string
	s.mu.Lock()
	for _, job := range jobs {
		if !job.IsTerminal() {
			job.Status = domain.JobFailed
			job.Metadata.Error = "interrupted by service restart"
			job.UpdatedAt = time.Now().UTC()
			interrupted = append(interrupted, job.LayerID)
		}
		s.jobs[job.ID] = job
	}
	s.mu.Unlock()

	if len(interrupted) > 0 {
		s.logger.Warn("interrupted jobs marked failed", "count", len(interrupted))
	}
	s.logger.Info("jobs restored", "count", len(jobs))
	s.updateActiveGauge()
	return interrupted, nil
}

// Enqueue creates a new queued job for the given layer. The returned
// context is cancelled when the job is cancelled; workers derive their
// work from it.
func (s *JobStore) Enqueue(ctx context.Context, layerID string, meta domain.JobMetadata) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.New().String(),
		LayerID:   layerID,
		Status:    domain.JobQueued,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  meta,
	}

	// The job context is rooted in Background, not the request context:
	// the job outlives the upload request and is only cancelled through
	// Cancel.
	jobCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.cancels[job.ID] = cancel
	s.jobCtxs[job.ID] = jobCtx
	s.mu.Unlock()

	s.persist(ctx, job)
	s.updateActiveGauge()
	s.logger.Info("job enqueued", "job", job.ID, "layer", layerID)

	snapshot := *job
	return &snapshot, nil
}

// Context returns the cancellation context for a job, or a background
// context if the job is unknown.
func (s *JobStore) Context(jobID string) context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ctx, ok := s.jobCtxs[jobID]; ok {
		return ctx
	}
	return context.Background()
}

// PickUp transitions a queued job to processing. Returns the job
// snapshot, or ErrInvalidTransition if the job was cancelled first.
func (s *JobStore) PickUp(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrJobNotFound
	}
	if !domain.ValidJobTransition(job.Status, domain.JobProcessing) {
		status := job.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, status)
	}
	job.Status = domain.JobProcessing
	job.UpdatedAt = time.Now().UTC()
	s.started[jobID] = job.UpdatedAt
	snapshot := *job
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
	s.updateActiveGauge()
	return &snapshot, nil
}

// ReportProgress updates a processing job's progress. Progress is
// clamped to [0,100] and never decreases; stale updates are dropped.
func (s *JobStore) ReportProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobProcessing {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, job.Status)
	}
	if progress <= job.Progress {
		s.mu.Unlock()
		return nil
	}
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	snapshot := *job
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
	return nil
}

// Complete transitions a processing job to completed with its results.
func (s *JobStore) Complete(ctx context.Context, jobID string, meta domain.JobMetadata) error {
	return s.finish(ctx, jobID, domain.JobCompleted, func(job *domain.Job) {
		job.Progress = 100
		meta.Error = ""
		job.Metadata = meta
	})
}

// Fail transitions a processing job to failed with an error message.
func (s *JobStore) Fail(ctx context.Context, jobID, message string) error {
	return s.finish(ctx, jobID, domain.JobFailed, func(job *domain.Job) {
		job.Metadata.Error = message
	})
}

func (s *JobStore) finish(ctx context.Context, jobID string, status domain.JobStatus, apply func(*domain.Job)) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if !domain.ValidJobTransition(job.Status, status) {
		from := job.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, from)
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	apply(job)
	startedAt, started := s.started[jobID]
	delete(s.started, jobID)
	s.releaseLocked(jobID)
	snapshot := *job
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
	s.metrics.IncJobsTotal(string(status))
	if started {
		s.metrics.ObserveJobDuration(time.Since(startedAt))
	}
	s.updateActiveGauge()
	s.logger.Info("job finished", "job", jobID, "status", status)
	return nil
}

// Cancel requests cancellation of a job. Queued jobs are cancelled
// immediately; processing jobs have their context cancelled and the
// worker stops at the next checkpoint. Terminal jobs cannot be
// cancelled.
func (s *JobStore) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrJobNotFound
	}
	if job.IsTerminal() {
		status := job.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrCannotCancel, jobID, status)
	}
	job.Status = domain.JobCancelled
	job.UpdatedAt = time.Now().UTC()
	delete(s.started, jobID)
	s.releaseLocked(jobID)
	snapshot := *job
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
	s.metrics.IncJobsTotal(string(domain.JobCancelled))
	s.updateActiveGauge()
	s.logger.Info("job cancelled", "job", jobID)
	return &snapshot, nil
}

// releaseLocked fires and removes the job's cancel func. Caller holds mu.
func (s *JobStore) releaseLocked(jobID string) {
	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
		delete(s.cancels, jobID)
	}
	delete(s.jobCtxs, jobID)
}

// Get returns a copy of the job with the given ID.
func (s *JobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

// IsStalled reports whether a single job is past the stall window.
func (s *JobStore) IsStalled(jobID string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	return ok && job.Stalled(s.stallWindow, now)
}

// List returns all jobs sorted by creation time, newest first.
func (s *JobStore) List(_ context.Context) []domain.Job {
	s.mu.RLock()
	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	s.mu.RUnlock()

	sortJobs(jobs)
	return jobs
}

// Stalled returns processing jobs with no updates inside the stall
// window. These are surfaced for operators, never auto-failed: a slow
// conversion is indistinguishable from a wedged one from the outside.
func (s *JobStore) Stalled(now time.Time) []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stalled []domain.Job
	for _, job := range s.jobs {
		if job.Stalled(s.stallWindow, now) {
			stalled = append(stalled, *job)
		}
	}
	sortJobs(stalled)
	return stalled
}

// Stats returns a snapshot of queue activity. Terminal counts cover the
// trailing 24 hours.
func (s *JobStore) Stats(now time.Time) domain.QueueStats {
	cutoff := now.Add(-24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.QueueStats
	for _, job := range s.jobs {
		switch job.Status {
		case domain.JobQueued:
			stats.Queued++
		case domain.JobProcessing:
			stats.Processing++
		case domain.JobCompleted:
			if job.UpdatedAt.After(cutoff) {
				stats.Completed24h++
			}
		case domain.JobFailed:
			if job.UpdatedAt.After(cutoff) {
				stats.Failed24h++
			}
		case domain.JobCancelled:
			if job.UpdatedAt.After(cutoff) {
				stats.Cancelled24h++
			}
		}
	}
	stats.Active = stats.Queued + stats.Processing
	return stats
}

// PruneTerminal removes terminal jobs older than the retention window.
// Returns the number of jobs removed.
func (s *JobStore) PruneTerminal(ctx context.Context, retention time.Duration, now time.Time) int {
	cutoff := now.Add(-retention)

	s.mu.Lock()
	var pruned []string
	for id, job := range s.jobs {
		if job.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			pruned = append(pruned, id)
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		for _, id := range pruned {
			if err := s.store.DeleteJob(ctx, id); err != nil {
				s.logger.Warn("failed to delete pruned job", "job", id, "error", err)
			}
		}
	}

	if len(pruned) > 0 {
		s.logger.Info("terminal jobs pruned", "count", len(pruned))
	}
	return len(pruned)
}

func (s *JobStore) persist(ctx context.Context, job *domain.Job) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.logger.Error("failed to persist job", "job", job.ID, "error", err)
	}
}

func (s *JobStore) updateActiveGauge() {
	s.mu.RLock()
	active := 0
	for _, job := range s.jobs {
		if !job.IsTerminal() {
			active++
		}
	}
	s.mu.RUnlock()
	s.metrics.SetJobsActive(active)
}

func sortJobs(jobs []domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
