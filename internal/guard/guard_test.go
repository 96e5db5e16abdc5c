package guard

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestInflightAcquireRelease(t *testing.T) {
	f := NewInflight()

	if !f.TryAcquire("k1") {
		t.Fatal("first acquire failed")
	}
	if f.TryAcquire("k1") {
		t.Error("double acquire succeeded")
	}
	if !f.TryAcquire("k2") {
		t.Error("unrelated key blocked")
	}

	f.Release("k1")
	if !f.TryAcquire("k1") {
		t.Error("acquire after release failed")
	}
}

func TestInflightReleaseIdempotent(t *testing.T) {
	f := NewInflight()
	f.Release("never-held")
	f.TryAcquire("k")
	f.Release("k")
	f.Release("k")
	if f.Held("k") {
		t.Error("key still held after release")
	}
}

func TestInflightConcurrentAcquire(t *testing.T) {
	f := NewInflight()
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.TryAcquire("same-key") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("%d goroutines acquired the same key, want 1", wins.Load())
	}
}

func TestSerialQueuesSerializePerInstallation(t *testing.T) {
	q := NewSerialQueues()
	var active atomic.Int32
	var maxActive atomic.Int32

	g := new(errgroup.Group)
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return q.Do(context.Background(), 42, func(context.Context) error {
				n := active.Add(1)
				if n > maxActive.Load() {
					maxActive.Store(n)
				}
				active.Add(-1)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent jobs for one installation = %d, want 1", maxActive.Load())
	}
}

func TestSerialQueuesParallelAcrossInstallations(t *testing.T) {
	q := NewSerialQueues()

	// Install 1 holds its queue while install 2 runs to completion;
	// if installations shared a lock this would deadlock.
	hold := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = q.Do(context.Background(), 1, func(context.Context) error {
			<-hold
			return nil
		})
	}()

	go func() {
		_ = q.Do(context.Background(), 2, func(context.Context) error {
			return nil
		})
		close(done)
	}()

	<-done
	close(hold)
}

func TestSerialQueuesPropagatesJobError(t *testing.T) {
	q := NewSerialQueues()
	wantErr := context.DeadlineExceeded
	err := q.Do(context.Background(), 7, func(context.Context) error { return wantErr })
	if err != wantErr {
		t.Errorf("Do returned %v, want %v", err, wantErr)
	}
}

func TestSerialQueuesFIFOOrder(t *testing.T) {
	q := NewSerialQueues()

	// A running head job keeps the queue occupied while waiters line up.
	release := make(chan struct{})
	headRunning := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), 7, func(context.Context) error {
			close(headRunning)
			<-release
			return nil
		})
	}()
	<-headRunning

	const waiters = 8
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Do(context.Background(), 7, func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// Spin until this waiter holds its ticket before starting the
		// next one, so arrival order is pinned.
		for q.Depth(7) != i+2 {
			runtime.Gosched()
		}
	}

	close(release)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("execution order %v, want strict arrival order", order)
		}
	}
}
