// File: pkg/server/pool.go
package server

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs jobs on a fixed set of workers. Each job is one pack run, so the
// pool bounds how many runs (and open archives) exist at a time.
type Pool struct {
	jobs   chan func()
	quit   chan struct{}
	mu     sync.RWMutex
	closed bool
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool starts workers goroutines reading from a queue of queueSize jobs.
// workers <= 0 means one worker per CPU.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
		logger.Debug("Adjusted worker count", zap.Int("workers", workers))
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		jobs:   make(chan func(), queueSize),
		quit:   make(chan struct{}),
		logger: logger,
	}

	logger.Debug("Initializing worker pool", zap.Int("workers", workers), zap.Int("queue", queueSize))
	for w := 0; w < workers; w++ {
		p.wg.Add(1)
		go p.worker(w, logger.With(zap.Int("workerID", w)))
	}
	return p
}

// Submit queues job. It blocks until the job is queued, ctx is done or the
// pool is closed.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
		p.logger.Debug("Worker pool stopped")
	})
}

func (p *Pool) worker(id int, logger *zap.Logger) {
	defer p.wg.Done()
	logger.Debug("Worker started")

	for job := range p.jobs {
		p.run(job, logger)
	}

	logger.Debug("Worker finished processing", zap.Int("workerID", id))
}

func (p *Pool) run(job func(), logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", zap.Any("panic", r))
		}
	}()
	job()
}
