package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/farmledger/lock"
)

func TestLocalMutualExclusion(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(ctx, "k")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			counter++
			atomic.AddInt32(&inside, -1)
			_ = lease.Release(ctx)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
	if l.Keys() != 0 {
		t.Fatalf("Keys() = %d after all releases, want 0", l.Keys())
	}
}

func TestLocalIndependentKeys(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	a, err := l.Acquire(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release(ctx)

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	b, err := l.Acquire(ctx2, "b")
	if err != nil {
		t.Fatalf("different key should not block: %v", err)
	}
	_ = b.Release(ctx)
}

func TestLocalContextCancel(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	held, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "k")
	if !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("err = %v, want ErrNotObtained", err)
	}

	_ = held.Release(ctx)
	_ = held.Release(ctx)
	if l.Keys() != 0 {
		t.Fatalf("Keys() = %d, want 0", l.Keys())
	}

	again, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again.Release(ctx)
}
