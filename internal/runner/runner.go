package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/praxiscrm/praxis/internal/storage"
	"github.com/praxiscrm/praxis/internal/telemetry"
)

// Result is the aggregate outcome of one runner pass.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Options tune a Runner. Zero values fall back to defaults.
type Options struct {
	BatchSize   int           // jobs claimed per pass (default 25)
	Concurrency int           // parallel handlers within a pass (default 4)
	JobTimeout  time.Duration // bound on a single handler invocation (default 60s)
}

// Runner drives one processing pass to completion: claim a bounded batch,
// dispatch each job to its registered handler, record outcomes. It does not
// loop; re-invocation belongs to the external scheduler.
type Runner struct {
	store       JobStore
	registry    *Registry
	batchSize   int
	concurrency int
	jobTimeout  time.Duration
	logger      *slog.Logger
}

// New creates a Runner over the given store and handler registry.
func New(store JobStore, registry *Registry, opts Options) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 60 * time.Second
	}
	return &Runner{
		store:       store,
		registry:    registry,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		jobTimeout:  opts.JobTimeout,
		logger:      slog.Default(),
	}
}

// RunOnce claims up to batchSize eligible jobs and processes them. A single
// job's failure never aborts the pass; a claim-time store failure aborts the
// whole invocation with no partial work.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	jobs, err := r.store.ClaimJobs(r.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("claiming jobs: %w", err)
	}
	if len(jobs) == 0 {
		r.updateDepth()
		return Result{}, nil
	}

	var processed, failed atomic.Int64

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := r.dispatch(ctx, job); err != nil {
				failed.Add(1)
				r.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
				r.recordFailure(job, err)
				return nil
			}
			if err := r.store.CompleteJob(job.ID); err != nil {
				// The work is done; only the bookkeeping failed. Surface it
				// in the log and count the job as processed.
				r.logger.Error("failed to mark job done", "job_id", job.ID, "error", err)
			}
			processed.Add(1)
			telemetry.JobsProcessed.Inc()
			return nil
		})
	}
	g.Wait()

	r.updateDepth()
	return Result{Processed: int(processed.Load()), Failed: int(failed.Load())}, nil
}

// dispatch runs the handler registered for the job's type under a bounded
// wait. A handler that ignores its context still cannot stall the pass past
// the timeout; its goroutine is abandoned to finish on its own.
func (r *Runner) dispatch(ctx context.Context, job storage.Job) error {
	handler, ok := r.registry.Resolve(job.Type)
	if !ok {
		return fmt.Errorf("no handler registered for type %q", job.Type)
	}

	jctx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler(jctx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-jctx.Done():
		return fmt.Errorf("handler timed out after %s: %w", r.jobTimeout, jctx.Err())
	}
}

func (r *Runner) recordFailure(job storage.Job, cause error) {
	if err := r.store.FailJob(job.ID, cause.Error()); err != nil {
		r.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		return
	}
	// The claimed snapshot carries the pre-attempt count, so the attempt
	// that just failed is job.Attempts+1.
	if job.Attempts+1 >= job.MaxAttempts {
		telemetry.JobsDead.Inc()
	} else {
		telemetry.JobsFailed.Inc()
	}
}

func (r *Runner) updateDepth() {
	if depth, err := r.store.QueuedDepth(); err == nil {
		telemetry.QueueDepth.Set(float64(depth))
	}
}
