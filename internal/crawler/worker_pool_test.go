package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRunsAllTasks(t *testing.T) {
	pool, err := NewWorkerPool(context.Background(), 4, 16)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	const jobs = 50
	var done atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		err := pool.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			done.Add(1)
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	wg.Wait()
	if done.Load() != jobs {
		t.Fatalf("expected %d tasks to run, got %d", jobs, done.Load())
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	const workers = 3
	pool, err := NewWorkerPool(context.Background(), workers, 64)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	var inFlight, peak atomic.Int64
	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		err := pool.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-gate
			inFlight.Add(-1)
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	close(gate)
	wg.Wait()
	if peak.Load() > workers {
		t.Fatalf("expected at most %d concurrent tasks, saw %d", workers, peak.Load())
	}
}

func TestWorkerPoolRejectsCancelledSubmit(t *testing.T) {
	pool, err := NewWorkerPool(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)

	// Fill the single worker and the queue so Submit has to block, then the
	// cancelled caller context must win.
	_ = pool.Submit(context.Background(), func(context.Context) { <-block })
	_ = pool.Submit(context.Background(), func(context.Context) {})
	if err := pool.Submit(ctx, func(context.Context) {}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWorkerPoolRequiresPositiveSizes(t *testing.T) {
	if _, err := NewWorkerPool(context.Background(), 0, 8); err == nil {
		t.Fatal("expected an error for zero concurrency")
	}
	if _, err := NewWorkerPool(context.Background(), 2, 0); err == nil {
		t.Fatal("expected an error for zero queue size")
	}
}
