// Package worker provides the background adapter that consumes queued
// watermark jobs and drives the pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vidmark/vidmark/config"
	"github.com/vidmark/vidmark/internal/core"
)

// Runner consumes work items from a bounded in-memory queue and runs the
// watermark pipeline for each. It implements core.Dispatcher for the HTTP
// side and exposes Run for the service supervisor.
type Runner struct {
	processor   core.Processor
	queue       chan core.WorkItem
	concurrency int
	logger      *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Processor core.Processor
	Config    config.WorkerConfig
	Logger    *slog.Logger
}

// NewRunner creates a new worker runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg := opts.Config
	cfg.Sanitize()

	return &Runner{
		processor:   opts.Processor,
		queue:       make(chan core.WorkItem, cfg.QueueDepth),
		concurrency: cfg.Concurrency,
		logger:      opts.Logger.With("component", "worker"),
	}, nil
}

// Enqueue submits a work item without blocking. A full queue is reported
// immediately so the HTTP layer can push back on the client.
func (r *Runner) Enqueue(ctx context.Context, item core.WorkItem) error {
	select {
	case r.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return core.ErrQueueFull
	}
}

// Run starts the consumer goroutines and runs until the context is
// cancelled. Returns nil on graceful shutdown (context.Canceled), error
// otherwise. A failed job never stops the loop; failures are recorded on
// the job row by the processor.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker",
		"concurrency", r.concurrency,
		"queue_depth", cap(r.queue))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.concurrency; i++ {
		g.Go(func() error {
			r.consume(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	r.logger.Info("worker stopped")
	return nil
}

func (r *Runner) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-r.queue:
			if err := r.processor.Process(ctx, item); err != nil {
				r.logger.Error("job processing failed", "job_id", item.JobID, "error", err)
			}
		}
	}
}

// QueueLen reports the number of items waiting, for health reporting.
func (r *Runner) QueueLen() int {
	return len(r.queue)
}
