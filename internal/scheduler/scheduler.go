// Package scheduler runs the engine's periodic background jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/xaenox/vailentin/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one periodic task. A failing run is logged and retried on the
// next tick.
type Job struct {
	Name      string
	Interval  time.Duration
	RunAtZero bool
	Run       func(ctx context.Context) error
}

type Scheduler struct {
	jobs    []Job
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(logger *zap.Logger, m *metrics.Metrics, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, metrics: m, logger: logger}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn("Skipping job without interval", zap.String("job", job.Name))
			continue
		}
		job := job
		g.Go(func() error {
			s.loop(gctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("Scheduled job",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval))

	if job.RunAtZero {
		s.runOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	err := job.Run(ctx)
	s.metrics.ObserveJob(job.Name, err, time.Since(start))
	if err != nil && ctx.Err() == nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", job.Name),
			zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled job finished",
		zap.String("job", job.Name),
		zap.Duration("took", time.Since(start)))
}
