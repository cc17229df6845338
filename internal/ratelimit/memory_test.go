package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMemoryStore(ctx, opts...)
}

func TestMemoryStore_TakeUpToMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		e, ok, err := s.Take(ctx, "ip", 3, time.Minute, t0)
		if err != nil || !ok {
			t.Fatalf("take %d: ok=%v err=%v", i, ok, err)
		}
		if e.Count != i {
			t.Fatalf("take %d: count = %d", i, e.Count)
		}
		if !e.ResetAt.Equal(t0.Add(time.Minute)) {
			t.Fatalf("reset = %v, want first request + window", e.ResetAt)
		}
	}
	e, ok, _ := s.Take(ctx, "ip", 3, time.Minute, t0.Add(time.Second))
	if ok {
		t.Fatal("4th take should be refused")
	}
	if e.Count != 3 {
		t.Fatalf("refused take changed count to %d", e.Count)
	}
}

func TestMemoryStore_WindowResets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Take(ctx, "ip", 1, time.Minute, t0)
	if _, ok, _ := s.Take(ctx, "ip", 1, time.Minute, t0.Add(59*time.Second)); ok {
		t.Fatal("should be limited inside the window")
	}
	e, ok, _ := s.Take(ctx, "ip", 1, time.Minute, t0.Add(time.Minute))
	if !ok || e.Count != 1 {
		t.Fatalf("new window: ok=%v count=%d", ok, e.Count)
	}
	if !e.ResetAt.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("reset = %v", e.ResetAt)
	}
}

func TestMemoryStore_KeysIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Take(ctx, "a", 1, time.Minute, t0)
	if _, ok, _ := s.Take(ctx, "b", 1, time.Minute, t0); !ok {
		t.Fatal("key b should have its own window")
	}
}

func TestMemoryStore_Release(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taken, _, _ := s.Take(ctx, "ip", 2, time.Minute, t0)
	s.Take(ctx, "ip", 2, time.Minute, t0)

	e, err := s.Release(ctx, "ip", taken)
	if err != nil || e.Count != 1 {
		t.Fatalf("release: count=%d err=%v", e.Count, err)
	}
	s.Release(ctx, "ip", taken)
	e, _ = s.Release(ctx, "ip", taken)
	if e.Count != 0 {
		t.Fatalf("count went below zero: %d", e.Count)
	}
}

func TestMemoryStore_ReleaseIgnoresNewerWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old, _, _ := s.Take(ctx, "ip", 5, time.Minute, t0)
	s.Take(ctx, "ip", 5, time.Minute, t0.Add(2*time.Minute))

	s.Release(ctx, "ip", old)
	e, ok, _ := s.Take(ctx, "ip", 5, time.Minute, t0.Add(2*time.Minute))
	if !ok || e.Count != 2 {
		t.Fatalf("stale release touched the new window: count=%d", e.Count)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Take(ctx, "old", 5, time.Minute, t0)
	s.Take(ctx, "new", 5, time.Minute, t0.Add(50*time.Second))

	if n := s.sweep(t0.Add(time.Minute)); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestMemoryStore_SweepLoopRuns(t *testing.T) {
	var clock atomic.Int64
	clock.Store(t0.UnixNano())
	s := newTestStore(t,
		WithSweepInterval(5*time.Millisecond),
		WithStoreClock(func() time.Time { return time.Unix(0, clock.Load()) }),
	)
	s.Take(context.Background(), "ip", 5, time.Minute, t0)
	clock.Store(t0.Add(time.Hour).UnixNano())

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep loop never dropped the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryStore_SweepStopsOnCancel(t *testing.T) {
	before := goleak.IgnoreCurrent()
	ctx, cancel := context.WithCancel(context.Background())
	NewMemoryStore(ctx, WithSweepInterval(time.Millisecond))
	cancel()
	goleak.VerifyNone(t, before)
}

// concurrent takes must never admit more than max requests per window
func TestMemoryStore_ConcurrentNeverExceedsMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const max = 25
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := s.Take(ctx, "ip", max, time.Minute, t0); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := admitted.Load(); got != max {
		t.Fatalf("admitted %d, want %d", got, max)
	}
}
