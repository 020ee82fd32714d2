package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLimiter_SetCapacity(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("depsdev", 10, time.Minute)

	cap := limiter.GetCapacity("depsdev")
	if cap == nil {
		t.Fatal("expected capacity, got nil")
	}
	if cap.Total != 10 || cap.Available != 10 || cap.Window != time.Minute {
		t.Errorf("capacity = %+v", cap)
	}

	limiter.SetCapacity("depsdev", 0, time.Minute)
	if limiter.GetCapacity("depsdev") != nil {
		t.Error("zero capacity should remove the resource")
	}
}

func TestMemoryLimiter_TryAcquire(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("osv", 3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.TryAcquire("osv") {
			t.Errorf("expected TryAcquire to succeed on attempt %d", i+1)
		}
	}
	if limiter.TryAcquire("osv") {
		t.Error("expected TryAcquire to fail after exhausting capacity")
	}
	if limiter.TryAcquire("unknown") {
		t.Error("unknown resource should not be acquirable")
	}
}

func TestMemoryLimiter_Refill(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewMemoryLimiter()
	limiter.nowFunc = func() time.Time { return now }
	defer limiter.Close()

	limiter.SetCapacity("search", 2, time.Second)
	limiter.TryAcquire("search")
	limiter.TryAcquire("search")

	now = now.Add(400 * time.Millisecond)
	if limiter.TryAcquire("search") {
		t.Fatal("no token should be available after 400ms")
	}

	now = now.Add(200 * time.Millisecond)
	if !limiter.TryAcquire("search") {
		t.Fatal("one token should refill after 600ms total")
	}

	now = now.Add(10 * time.Second)
	if got := limiter.GetCapacity("search").Available; got != 2 {
		t.Errorf("refill should cap at capacity, got %d", got)
	}
}

func TestMemoryLimiter_AcquireWaitsForCooldown(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("search", 1, 50*time.Millisecond)

	ctx := context.Background()
	if err := limiter.Acquire(ctx, "search"); err != nil {
		t.Fatalf("first Acquire error = %v", err)
	}

	start := time.Now()
	if err := limiter.Acquire(ctx, "search"); err != nil {
		t.Fatalf("second Acquire error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("second Acquire returned after %v, expected to wait for cooldown", elapsed)
	}
}

func TestMemoryLimiter_AcquireContextCancel(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("depsdev", 1, time.Hour)
	limiter.TryAcquire("depsdev")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx, "depsdev"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestMemoryLimiter_AcquireUnknown(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	if err := limiter.Acquire(context.Background(), "nope"); !errors.Is(err, ErrResourceUnknown) {
		t.Errorf("expected ErrResourceUnknown, got %v", err)
	}
}

func TestMemoryLimiter_CloseWakesWaiters(t *testing.T) {
	limiter := NewMemoryLimiter()
	limiter.SetCapacity("depsdev", 1, time.Hour)
	limiter.TryAcquire("depsdev")

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- limiter.Acquire(context.Background(), "depsdev")
		}()
	}

	time.Sleep(20 * time.Millisecond)
	if err := limiter.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	}

	if err := limiter.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() = %v, want ErrClosed", err)
	}
}

func TestMemoryLimiter_Reduce(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	tests := []struct {
		capacity int
		want     int
	}{
		{100, 75},
		{4, 3},
		{1, 1},
	}
	for _, tt := range tests {
		limiter.SetCapacity("r", 0, 0)
		limiter.SetCapacity("r", tt.capacity, time.Minute)
		limiter.Reduce("r", "received 429")
		cap := limiter.GetCapacity("r")
		if cap.Total != tt.want {
			t.Errorf("Reduce(%d) total = %d, want %d", tt.capacity, cap.Total, tt.want)
		}
		if cap.Available > cap.Total {
			t.Errorf("available %d exceeds total %d", cap.Available, cap.Total)
		}
		if cap.Reduced != 1 || cap.Reason != "received 429" {
			t.Errorf("capacity = %+v", cap)
		}
	}
}
