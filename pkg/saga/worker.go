package saga

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks admission-pool operational counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool is the engine's admission-control primitive: a counting
// semaphore bounding simultaneous in-flight task executions regardless of
// DAG width. Permits are granted in acquisition order; the pool does not
// prioritize.
type WorkerPool struct {
	permits chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// NewWorkerPool creates a pool with the given permit count.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		permits: make(chan struct{}, size),
		done:    make(chan struct{}),
	}
}

// Submit acquires a permit and runs fn in its own goroutine, releasing the
// permit on completion. It blocks while the pool is at capacity
// (backpressure) and respects context cancellation while waiting. Returns
// ErrPoolShutdown if the pool has been shut down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	go p.run(ctx, fn)
	return nil
}

// acquire blocks for a permit and registers the work. It fails when the
// pool is shut down or the context ends while waiting.
func (p *WorkerPool) acquire(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolShutdown
	}

	select {
	case p.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Registration happens under the lock so Shutdown's wg.Wait cannot race
	// with a permit holder that has not called wg.Add yet. Shutdown may also
	// have won the race for the permit itself, so re-check closed.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.permits
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	return nil
}

// run executes one unit of work, then releases its permit and registration.
func (p *WorkerPool) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.metrics.Panics, 1)
			atomic.AddInt64(&p.metrics.Failed, 1)
		}
		atomic.AddInt64(&p.metrics.Active, -1)
		<-p.permits
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		atomic.AddInt64(&p.metrics.Failed, 1)
		return
	}
	atomic.AddInt64(&p.metrics.Completed, 1)
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for active work to complete.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
