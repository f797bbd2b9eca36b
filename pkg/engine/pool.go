package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxWorkers is the default bound on concurrent record operations.
const DefaultMaxWorkers = 10

// WorkerPool executes record operations with a concurrency bound shared by
// every resource type processed at the same time.
type WorkerPool struct {
	size int
	sem  *semaphore.Weighted
}

// NewWorkerPool creates a pool running at most size operations at once.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultMaxWorkers
	}
	return &WorkerPool{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the concurrency bound.
func (p *WorkerPool) Size() int {
	return p.size
}

// Run calls fn once per key and waits for every dispatched call to return.
// Once ctx is cancelled no further keys are dispatched; calls already running
// receive a context that is not cancelled and run to completion. Run returns
// the number of keys dispatched.
func (p *WorkerPool) Run(ctx context.Context, keys []string, fn func(ctx context.Context, key string)) int {
	return dispatch(ctx, p, keys, fn)
}

// dispatch is Run for any item type.
func dispatch[T any](ctx context.Context, p *WorkerPool, items []T, fn func(ctx context.Context, item T)) int {
	if len(items) == 0 {
		return 0
	}

	// Determine worker count (min of pool size and number of items)
	workerCount := p.size
	if len(items) < workerCount {
		workerCount = len(items)
	}

	workQueue := make(chan T, len(items))
	for _, item := range items {
		workQueue <- item
	}
	close(workQueue)

	opCtx := context.WithoutCancel(ctx)
	var dispatched atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for item := range workQueue {
				if ctx.Err() != nil {
					return
				}
				if err := p.sem.Acquire(ctx, 1); err != nil {
					return
				}
				dispatched.Add(1)
				fn(opCtx, item)
				p.sem.Release(1)
			}
		}()
	}

	wg.Wait()
	return int(dispatched.Load())
}
