// Package parallel runs independent units of work on a bounded set of
// goroutines.
package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by ExecuteAll after Close.
var ErrClosed = errors.New("parallel: pool closed")

// WorkerPool bounds how many work items run at once.
//
// Work items of one ExecuteAll call run concurrently, at most Workers() at a
// time. The first error cancels the context handed to the remaining items.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	running atomic.Bool
}

// NewWorkerPool creates a pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &WorkerPool{workers: workers}
	p.running.Store(true)
	return p
}

// ExecuteAll runs every work item and waits for all of them. It returns the
// first error. A single item runs on the calling goroutine.
func (p *WorkerPool) ExecuteAll(ctx context.Context, work []func(context.Context) error) error {
	if !p.running.Load() {
		return ErrClosed
	}
	switch len(work) {
	case 0:
		return nil
	case 1:
		return work[0](ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, fn := range work {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx)
		})
	}
	return g.Wait()
}

// Close stops the pool from accepting work. Close is safe to call multiple
// times.
func (p *WorkerPool) Close() {
	p.running.Store(false)
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}
