package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in a process-local map. A background sweep
// drops expired windows until the context passed to NewMemoryStore ends.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry

	sweepEvery time.Duration
	now        func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithSweepInterval sets how often expired windows are dropped.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepEvery = d
		}
	}
}

// WithStoreClock overrides the time source used by the sweep.
func WithStoreClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(ctx context.Context, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]*Entry),
		sweepEvery: 5 * time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	go s.sweepLoop(ctx)
	return s
}

func (s *MemoryStore) Take(_ context.Context, key string, max int, window time.Duration, now time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.ResetAt) {
		e = &Entry{ResetAt: now.Add(window)}
		s.entries[key] = e
	}
	if e.Count >= max {
		return *e, false, nil
	}
	e.Count++
	return *e, true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string, taken Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.ResetAt.Equal(taken.ResetAt) {
		return taken, nil
	}
	if e.Count > 0 {
		e.Count--
	}
	return *e, nil
}

// Len is the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweep drops windows that have elapsed at now and reports how many went
func (s *MemoryStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.ResetAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) sweepLoop(ctx context.Context) {
	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(s.now())
		}
	}
}
