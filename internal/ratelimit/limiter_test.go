package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func statusHandler(status int) pipeline.Handler {
	return pipeline.HandlerFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		return pipeline.NewResponse(status, map[string]any{"ok": status < 400}), nil
	})
}

func newTestLimiter(t *testing.T, cfg Config, opts ...Option) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewLimiter(newTestStore(t), cfg, opts...), clock
}

func post(addr string) *pipeline.Request {
	return &pipeline.Request{Method: http.MethodPost, Path: "/newsletter-subscription", ClientAddr: addr}
}

func TestLimiter_RejectsAfterMax(t *testing.T) {
	var denied atomic.Int32
	l, clock := newTestLimiter(t, Config{Window: 15 * time.Minute, MaxRequests: 5},
		WithOnDenied(func(string) { denied.Add(1) }))
	next := statusHandler(http.StatusCreated)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		resp, err := l.Process(ctx, post("203.0.113.7"), next)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status != http.StatusCreated {
			t.Fatalf("request %d: status = %d, want 201", i, resp.Status)
		}
		if got := resp.Header.Get(HeaderRemaining); got != strconv.Itoa(5-i) {
			t.Fatalf("request %d: remaining = %s, want %d", i, got, 5-i)
		}
		clock.Advance(time.Second)
	}

	resp, err := l.Process(ctx, post("203.0.113.7"), next)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("6th request: status = %d, want 429", resp.Status)
	}
	ra, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	if ra <= 0 {
		t.Fatalf("Retry-After = %q, want positive", resp.Header.Get("Retry-After"))
	}
	if ra != int((15*time.Minute-5*time.Second)/time.Second) {
		t.Fatalf("Retry-After = %d, want seconds until reset", ra)
	}
	if resp.Header.Get(HeaderLimit) != "5" || resp.Header.Get(HeaderRemaining) != "0" {
		t.Fatalf("limit headers: %v", resp.Header)
	}
	if want := strconv.FormatInt(t0.Add(15*time.Minute).UnixMilli(), 10); resp.Header.Get(HeaderReset) != want {
		t.Fatalf("reset = %s, want %s", resp.Header.Get(HeaderReset), want)
	}

	e, ok := pipeline.ErrorOf(resp)
	if !ok {
		t.Fatal("429 without error body")
	}
	if e.Name != pipeline.NameTooManyRequests || e.Message != DefaultMessage {
		t.Fatalf("error = %+v", e)
	}
	if e.Details.Limit != 5 || e.Details.WindowMs != (15*time.Minute).Milliseconds() || e.Details.RetryAfter != ra {
		t.Fatalf("details = %+v", e.Details)
	}
	if denied.Load() != 1 {
		t.Fatalf("OnDenied called %d times, want 1", denied.Load())
	}
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l, clock := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 1})
	next := statusHandler(http.StatusCreated)
	ctx := context.Background()

	l.Process(ctx, post("a"), next)
	if resp, _ := l.Process(ctx, post("a"), next); resp.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.Status)
	}
	clock.Advance(time.Minute)
	if resp, _ := l.Process(ctx, post("a"), next); resp.Status != http.StatusCreated {
		t.Fatalf("after window: status = %d, want 201", resp.Status)
	}
}

func TestLimiter_OnlyPost(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxRequests: 1})
	next := statusHandler(http.StatusOK)
	for i := 0; i < 3; i++ {
		req := post("a")
		req.Method = http.MethodGet
		resp, _ := l.Process(context.Background(), req, next)
		if resp.Status != http.StatusOK {
			t.Fatalf("GET %d limited", i)
		}
		if resp.Header.Get(HeaderLimit) != "" {
			t.Fatal("GET should not carry rate limit headers")
		}
	}
}

func TestLimiter_SkipSuccessful(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxRequests: 2, SkipSuccessfulRequests: true})
	for i := 0; i < 5; i++ {
		resp, _ := l.Process(context.Background(), post("a"), statusHandler(http.StatusCreated))
		if resp.Status != http.StatusCreated {
			t.Fatalf("request %d: status %d, successful requests should not count", i, resp.Status)
		}
		if resp.Header.Get(HeaderRemaining) != "2" {
			t.Fatalf("remaining = %s, want 2", resp.Header.Get(HeaderRemaining))
		}
	}
}

func TestLimiter_SkipSuccessfulCountsRedirects(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxRequests: 2, SkipSuccessfulRequests: true})
	next := statusHandler(http.StatusSeeOther)
	for i := 0; i < 2; i++ {
		resp, _ := l.Process(context.Background(), post("a"), next)
		if resp.Status != http.StatusSeeOther {
			t.Fatalf("request %d: status %d", i, resp.Status)
		}
	}
	if resp, _ := l.Process(context.Background(), post("a"), next); resp.Status != http.StatusTooManyRequests {
		t.Fatalf("3xx responses should count, got %d", resp.Status)
	}
}

func TestLimiter_SkipFailed(t *testing.T) {
	boom := errors.New("db down")
	failing := pipeline.HandlerFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		return nil, boom
	})

	l, _ := newTestLimiter(t, Config{MaxRequests: 1, SkipFailedRequests: true})
	for i := 0; i < 3; i++ {
		if _, err := l.Process(context.Background(), post("a"), failing); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want downstream error", err)
		}
	}
	for i := 0; i < 3; i++ {
		resp, _ := l.Process(context.Background(), post("a"), statusHandler(http.StatusServiceUnavailable))
		if resp.Status != http.StatusServiceUnavailable {
			t.Fatalf("5xx responses should not count, got %d", resp.Status)
		}
	}
	if resp, _ := l.Process(context.Background(), post("a"), statusHandler(http.StatusCreated)); resp.Status != http.StatusCreated {
		t.Fatalf("budget should be intact, got %d", resp.Status)
	}
}

func TestLimiter_ClientErrorsCount(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxRequests: 2, SkipFailedRequests: true})
	next := statusHandler(http.StatusBadRequest)
	l.Process(context.Background(), post("a"), next)
	l.Process(context.Background(), post("a"), next)
	if resp, _ := l.Process(context.Background(), post("a"), next); resp.Status != http.StatusTooManyRequests {
		t.Fatalf("validation rejections should count, got %d", resp.Status)
	}
}

func TestLimiter_DefaultsAndUnknownKey(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	if l.cfg.MaxRequests != 5 || l.cfg.Window != 15*time.Minute {
		t.Fatalf("defaults not applied: %+v", l.cfg)
	}
	if got := ClientKey(&pipeline.Request{}); got != "unknown" {
		t.Fatalf("ClientKey = %q", got)
	}
}

type brokenStore struct{}

func (brokenStore) Take(context.Context, string, int, time.Duration, time.Time) (Entry, bool, error) {
	return Entry{}, false, errors.New("connection refused")
}
func (brokenStore) Release(_ context.Context, _ string, e Entry) (Entry, error) { return e, nil }

func TestLimiter_StoreErrorFailsOpen(t *testing.T) {
	l := NewLimiter(brokenStore{}, Config{MaxRequests: 1})
	for i := 0; i < 3; i++ {
		resp, err := l.Process(context.Background(), post("a"), statusHandler(http.StatusCreated))
		if err != nil || resp.Status != http.StatusCreated {
			t.Fatalf("status = %v err = %v, want pass-through", resp, err)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter(t0.Add(1500*time.Millisecond), t0); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	if got := retryAfter(t0, t0.Add(time.Second)); got != 1 {
		t.Fatalf("past reset: got %d, want 1", got)
	}
}
