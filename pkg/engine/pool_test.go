package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsEveryKey(t *testing.T) {
	pool := NewWorkerPool(3)

	keys := make([]string, 50)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	n := pool.Run(context.Background(), keys, func(_ context.Context, key string) {
		mu.Lock()
		seen[key]++
		mu.Unlock()
	})

	assert.Equal(t, len(keys), n)
	assert.Len(t, seen, len(keys))
	for _, key := range keys {
		assert.Equal(t, 1, seen[key], key)
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)

	var current, peak atomic.Int64
	keys := []string{"a", "b", "c", "d", "e", "f"}
	pool.Run(context.Background(), keys, func(context.Context, string) {
		c := current.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
	})

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestWorkerPool_BoundSharedAcrossRuns(t *testing.T) {
	pool := NewWorkerPool(2)

	var current, peak atomic.Int64
	fn := func(context.Context, string) {
		c := current.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(context.Background(), []string{"a", "b", "c", "d"}, fn)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestWorkerPool_CancelStopsDispatch(t *testing.T) {
	pool := NewWorkerPool(1)
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	var opErr error
	n := pool.Run(ctx, []string{"a", "b", "c", "d"}, func(opCtx context.Context, _ string) {
		calls.Add(1)
		cancel()
		// operations already running are not cancelled
		opErr = opCtx.Err()
	})

	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), calls.Load())
	assert.NoError(t, opErr)
}

func TestWorkerPool_Defaults(t *testing.T) {
	assert.Equal(t, DefaultMaxWorkers, NewWorkerPool(0).Size())
	assert.Equal(t, 0, NewWorkerPool(4).Run(context.Background(), nil, func(context.Context, string) {
		t.Fatal("fn called without keys")
	}))
}
