// Package scheduler runs recurring jobs on the shared worker pool.
package scheduler

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/bling0390/vivbliss-watch/errs"
	"github.com/bling0390/vivbliss-watch/internal/observability"
	"github.com/bling0390/vivbliss-watch/lib/async"
)

// Job is a recurring task. RunAtStart fires one execution immediately instead
// of waiting a full interval.
type Job struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Fn         async.Task
}

// Scheduler ticks each registered job and submits executions to the pool so
// a slow job never blocks the others.
type Scheduler struct {
	pool *async.Pool
	jobs []Job
}

// New constructs a Scheduler over the shared pool.
func New(pool *async.Pool) *Scheduler {
	return &Scheduler{pool: pool}
}

// Add registers a job. It must be called before Run.
func (s *Scheduler) Add(job Job) error {
	if job.Fn == nil {
		return errs.New("scheduler", errs.CodeInvalid, errs.WithMessage("job fn required"))
	}
	if job.Interval <= 0 {
		return errs.New("scheduler", errs.CodeInvalid, errs.WithMessage("job interval must be >0"))
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Run ticks all jobs until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg conc.WaitGroup
	for _, job := range s.jobs {
		job := job
		wg.Go(func() {
			s.tick(ctx, job)
		})
	}
	wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunAtStart {
		s.submit(ctx, job)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.submit(ctx, job)
		}
	}
}

func (s *Scheduler) submit(ctx context.Context, job Job) {
	if err := s.pool.Submit(ctx, job.Fn); err != nil {
		observability.Log().Error("schedule job",
			observability.F("job", job.Name),
			observability.F("error", err.Error()))
	}
}
