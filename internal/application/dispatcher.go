package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/terralab/strata/internal/domain"
)

// ErrQueueFull is returned when the dispatcher queue cannot accept more
// jobs.
var ErrQueueFull = errors.New("job queue full")

// JobRunner executes one job. Run is responsible for all job state
// transitions; the dispatcher only hands over the job ID and the job's
// cancellation context.
type JobRunner interface {
	Run(ctx context.Context, jobID string)
}

// Dispatcher feeds queued jobs to a fixed pool of workers. Uploads
// never block on processing: enqueueing is a channel send, and the
// queue depth bounds how far ingestion can run ahead of the workers.
type Dispatcher struct {
	jobs    *JobStore
	runner  JobRunner
	queue   chan string
	workers int
	logger  *slog.Logger

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given worker count and
// queue depth.
func NewDispatcher(jobs *JobStore, workers, queueDepth int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 64
	}
	return &Dispatcher{
		jobs:    jobs,
		queue:   make(chan string, queueDepth),
		workers: workers,
		logger:  logger,
	}
}

// SetRunner binds the job runner. Must be called before Start; kept
// separate from the constructor because the runner submits through the
// dispatcher.
func (d *Dispatcher) SetRunner(r JobRunner) {
	d.runner = r
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.logger.Info("starting job workers", "workers", d.workers, "queue_depth", cap(d.queue))
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work(ctx, i)
		}
	})
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Submit hands a queued job to the worker pool.
func (d *Dispatcher) Submit(jobID string) error {
	select {
	case d.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	defer d.wg.Done()

	logger := d.logger.With("worker", worker)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped")
			return
		case jobID := <-d.queue:
			d.run(ctx, jobID, logger)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, jobID string, logger *slog.Logger) {
	// The job's own context governs cancellation; the pool context only
	// gates shutdown between jobs.
	jobCtx := d.jobs.Context(jobID)
	if jobCtx.Err() != nil {
		// Cancelled while sitting in the queue. The runner still gets
		// the job so the layer reaches a terminal state.
		d.runner.Run(jobCtx, jobID)
		return
	}

	job, err := d.jobs.PickUp(ctx, jobID)
	if err != nil {
		// A cancel can land between the context check and the pickup;
		// that job still needs its layer settled.
		if jobCtx.Err() != nil {
			d.runner.Run(jobCtx, jobID)
			return
		}
		if !errors.Is(err, domain.ErrInvalidTransition) {
			logger.Error("failed to pick up job", "job", jobID, "error", err)
		}
		return
	}

	logger.Info("job started", "job", job.ID, "layer", job.LayerID)
	d.runner.Run(jobCtx, jobID)
}
