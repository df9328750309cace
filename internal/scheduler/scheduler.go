// Package scheduler runs the periodic producers and the long-running
// enrichment consumer until shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is periodic work. Runs are spaced by Interval measured from the end
// of the previous run, so a slow run never overlaps the next one.
type Job struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	Run          func(ctx context.Context) error
}

// Service is long-running work that returns when ctx is cancelled.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner starts jobs and services together and stops them together.
type Runner struct {
	jobs     []Job
	services []Service
}

// New creates an empty runner.
func New() *Runner {
	return &Runner{}
}

// AddJob registers periodic work.
func (r *Runner) AddJob(job Job) *Runner {
	r.jobs = append(r.jobs, job)
	return r
}

// AddService registers long-running work.
func (r *Runner) AddService(svc Service) *Runner {
	r.services = append(r.services, svc)
	return r
}

// Run blocks until ctx is cancelled or a service fails. Job failures are
// logged and never stop the runner.
func (r *Runner) Run(ctx context.Context) error {
	for _, job := range r.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("job %s: interval must be positive", job.Name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		g.Go(func() error {
			Loop(ctx, job)
			return nil
		})
	}
	for _, svc := range r.services {
		g.Go(func() error {
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", svc.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Loop runs job until ctx is cancelled.
func Loop(ctx context.Context, job Job) {
	slog.Info("scheduled job started", "job", job.Name,
		"initial_delay", job.InitialDelay, "interval", job.Interval)

	timer := time.NewTimer(job.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduled job stopped", "job", job.Name)
			return
		case <-timer.C:
			start := time.Now()
			if err := RunOnce(ctx, job); err != nil {
				slog.Error("scheduled job failed", "job", job.Name, "error", err, "duration", time.Since(start))
			} else {
				slog.Debug("scheduled job finished", "job", job.Name, "duration", time.Since(start))
			}
			timer.Reset(job.Interval)
		}
	}
}

// RunOnce runs the job a single time, converting a panic into an error.
func RunOnce(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}
