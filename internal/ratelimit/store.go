package ratelimit

import (
	"context"
	"time"
)

// Entry is the counter state of one key in its current window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Store keeps fixed-window counters. Implementations make each call atomic
// per key.
type Store interface {
	// Take starts a fresh window of length window when the key has none or
	// its window has elapsed at now, then counts one request if Count < max.
	// allowed reports whether the request was counted.
	Take(ctx context.Context, key string, max int, window time.Duration, now time.Time) (e Entry, allowed bool, err error)

	// Release uncounts one request taken in the window identified by
	// taken.ResetAt. It is a no-op once that window has been replaced.
	Release(ctx context.Context, key string, taken Entry) (Entry, error)
}
