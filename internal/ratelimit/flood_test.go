package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/httpmw"
)

func newTestGuard(t *testing.T, opts ...FloodOption) *FloodGuard {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewFloodGuard(ctx, append([]FloodOption{WithTTL(100 * time.Millisecond)}, opts...)...)
}

func TestFloodGuard_BurstThenReject(t *testing.T) {
	var first, all atomic.Int32
	g := newTestGuard(t, WithRate(1, 3),
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnFloodDenied(func(string) { all.Add(1) }),
	)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if ok, _ := g.allow("10.0.0.1", now); !ok {
			t.Fatalf("request %d should be inside the burst", i+1)
		}
	}
	for i := 0; i < 2; i++ {
		ok, wait := g.allow("10.0.0.1", now)
		if ok {
			t.Fatal("burst exhausted, should deny")
		}
		if wait != time.Second {
			t.Fatalf("wait = %v, want 1s", wait)
		}
	}
	if first.Load() != 1 || all.Load() != 2 {
		t.Fatalf("hooks: first=%d all=%d, want 1/2", first.Load(), all.Load())
	}
	if ok, _ := g.allow("10.0.0.2", now); !ok {
		t.Fatal("other IPs have their own bucket")
	}
}

func TestFloodGuard_Evict(t *testing.T) {
	g := newTestGuard(t)
	now := time.Now()
	g.allow("10.0.0.1", now)
	g.evict(now.Add(time.Second))

	g.mu.Lock()
	n := len(g.visitors)
	g.mu.Unlock()
	if n != 0 {
		t.Fatalf("visitors = %d, want 0 after ttl", n)
	}
}

func TestFloodGuard_Middleware(t *testing.T) {
	g := newTestGuard(t, WithRate(0.5, 1))
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(httpmw.WithClientIP(r.Context(), "198.51.100.4"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	if rec := do(); rec.Code != http.StatusNoContent {
		t.Fatalf("first: %d", rec.Code)
	}
	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("Retry-After = %q, want 2", rec.Header().Get("Retry-After"))
	}
}
