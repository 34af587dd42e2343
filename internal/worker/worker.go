// Package worker executes queued analysis jobs from the SQLite job queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/starcoach/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Runner executes one claimed job.
type Runner interface {
	RunJob(ctx context.Context, job storage.Job) error
}

// Worker claims jobs of a single type and runs up to a fixed number of them
// concurrently.
type Worker struct {
	store   JobStore
	runner  Runner
	jobType string
	poll    time.Duration
	limit   int
	wake    chan struct{}
	logger  *slog.Logger
}

// NewWorker creates a Worker for jobType. If pollInterval is <= 0 it defaults
// to 500ms; if maxConcurrent is <= 0 it defaults to 4.
func NewWorker(store JobStore, runner Runner, jobType string, pollInterval time.Duration, maxConcurrent int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Worker{
		store:   store,
		runner:  runner,
		jobType: jobType,
		poll:    pollInterval,
		limit:   maxConcurrent,
		wake:    make(chan struct{}, 1),
		logger:  slog.Default(),
	}
}

// Wake makes an idle Run loop poll immediately. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run claims and executes jobs until ctx is cancelled, then waits for the jobs
// already running. Running jobs are not cancelled with ctx; they are bounded
// by their own per-call timeouts.
func (w *Worker) Run(ctx context.Context) {
	jobCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(w.limit)

	for ctx.Err() == nil {
		job, err := w.store.ClaimNextJob([]string{w.jobType})
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if job != nil {
			// Blocks while all slots are busy.
			g.Go(func() error {
				w.process(jobCtx, job)
				return nil
			})
			continue
		}

		select {
		case <-ctx.Done():
		case <-w.wake:
		case <-time.After(w.poll):
		}
	}

	w.logger.Info("worker stopping, waiting for running jobs")
	g.Wait()
}

// RunOnce claims and processes a single job synchronously.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{w.jobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) {
	log := w.logger.With("job_id", job.ID, "attempt_id", job.AttemptID)

	err := w.runSafely(ctx, job)
	if err != nil {
		log.Warn("job failed", "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			log.Error("failed to mark job as failed", "error", failErr)
		}
		return
	}
	if err := w.store.CompleteJob(job.ID); err != nil {
		log.Error("failed to mark job as completed", "error", err)
	}
}

func (w *Worker) runSafely(ctx context.Context, job *storage.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.runner.RunJob(ctx, *job)
}
