// Package async provides the bounded worker pool shared by the scheduler and
// the dispatcher fan-out.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/bling0390/vivbliss-watch/errs"
	"github.com/bling0390/vivbliss-watch/internal/observability"
)

// Task is a unit of work executed by a pool worker.
type Task func(context.Context) error

// Pool is a fixed-size worker pool with a bounded queue. A saturated queue
// rejects submissions instead of blocking the producer.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, jobs: make(chan job, queue)}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the task. It fails fast when the pool is closed, the
// caller's context is done, or the queue is full.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.wg.Add(1)
	select {
	case <-p.ctx.Done():
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Close stops accepting new tasks and cancels idle workers.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		close(p.jobs)
	})
}

// Shutdown closes the pool and waits for in-flight tasks until the context
// expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			ctx := job.ctx
			if ctx == nil {
				ctx = p.ctx
			}
			p.run(ctx, job.fn)
		}
	}
}

// drain releases tasks still queued at shutdown without running them.
func (p *Pool) drain() {
	for range p.jobs {
		p.wg.Done()
	}
}

// run isolates a single task so a panic never takes the worker down.
func (p *Pool) run(ctx context.Context, fn Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("pool task panicked", observability.F("panic", fmt.Sprint(r)))
		}
	}()
	if err := fn(ctx); err != nil {
		observability.Log().Debug("pool task error", observability.F("error", err.Error()))
	}
}
