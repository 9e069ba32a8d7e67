package utils

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// WorkerPool runs jobs on a bounded number of goroutines with an optional
// rate limit. The first job returning an error cancels the pool context;
// jobs that only want to record a per-item failure should return nil.
type WorkerPool struct {
	group   *errgroup.Group
	ctx     context.Context
	limiter *rate.Limiter
}

// NewWorkerPool creates a WorkerPool bound to ctx. rateLimitMs <= 0 disables
// rate limiting.
func NewWorkerPool(ctx context.Context, maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rateLimitMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(rateLimitMs)*time.Millisecond), 1)
	}
	return &WorkerPool{group: g, ctx: gctx, limiter: limiter}
}

// Context is cancelled once any job fails or the parent context ends.
func (wp *WorkerPool) Context() context.Context {
	return wp.ctx
}

// Submit enqueues a job, blocking while all workers are busy. Jobs submitted
// after the pool context ended are dropped.
func (wp *WorkerPool) Submit(job func(ctx context.Context) error) {
	wp.group.Go(func() error {
		if err := wp.limiter.Wait(wp.ctx); err != nil {
			return nil
		}
		return job(wp.ctx)
	})
}

// Wait blocks until all submitted jobs have completed and returns the first
// job error.
func (wp *WorkerPool) Wait() error {
	return wp.group.Wait()
}
