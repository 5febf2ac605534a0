// Package worker provides a bounded goroutine pool for scoring fan-out and
// background profile jobs.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Job is a unit of work run by the pool.
type Job struct {
	Name string
	Run  func(ctx context.Context)
}

// Pool manages a fixed set of workers reading from a buffered queue.
type Pool struct {
	jobs   chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	stopOnce sync.Once
}

// NewPool creates a pool with the given queue size.
func NewPool(queueSize int, logger *zap.Logger) *Pool {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{jobs: make(chan Job, queueSize), logger: logger}
}

// Start launches the worker goroutines. Jobs receive ctx.
func (p *Pool) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(ctx, job)
			}
		}()
	}
}

// Stop closes the queue and waits for queued jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

// Submit queues a job, blocking until there is room or ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues a job without blocking and reports whether it was accepted.
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		p.logger.Warn("worker: dropping job, queue full", zap.String("job", job.Name))
		return false
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker: job panicked", zap.String("job", job.Name), zap.Any("panic", r))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	job.Run(ctx)
}

// Each runs fn for every index in [0, n) on at most workers goroutines and
// waits for all of them. Remaining indices are skipped once ctx is done.
func Each(ctx context.Context, workers, n int, fn func(ctx context.Context, i int)) error {
	if n == 0 {
		return ctx.Err()
	}
	if workers > n {
		workers = n
	}

	pool := NewPool(n, nil)
	pool.Start(ctx, workers)
	for i := 0; i < n; i++ {
		i := i
		if err := pool.Submit(ctx, Job{Run: func(ctx context.Context) { fn(ctx, i) }}); err != nil {
			break
		}
	}
	pool.Stop()
	return ctx.Err()
}
