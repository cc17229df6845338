package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"

	DefaultMessage = "Too many subscription requests. Please try again later."
)

type Config struct {
	Window      time.Duration
	MaxRequests int

	// SkipSuccessfulRequests uncounts requests that end in a 2xx.
	SkipSuccessfulRequests bool
	// SkipFailedRequests uncounts requests that end in an error or a 5xx.
	SkipFailedRequests bool

	// KeyFunc picks the counter key; defaults to the client address.
	KeyFunc func(*pipeline.Request) string
	Message string
}

func DefaultConfig() Config {
	return Config{
		Window:             15 * time.Minute,
		MaxRequests:        5,
		SkipFailedRequests: true,
	}
}

// ClientKey keys on the resolved client address.
func ClientKey(req *pipeline.Request) string {
	if req.ClientAddr == "" {
		return "unknown"
	}
	return req.ClientAddr
}

// Limiter is the fixed-window pipeline stage. Only POST requests are counted.
type Limiter struct {
	cfg      Config
	store    Store
	now      func() time.Time
	onDenied func(key string)
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithOnDenied sets a callback for every rejected request, used for metrics.
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

func NewLimiter(store Store, cfg Config, opts ...Option) *Limiter {
	d := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = d.MaxRequests
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	if cfg.Message == "" {
		cfg.Message = DefaultMessage
	}
	l := &Limiter{cfg: cfg, store: store, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) Name() string { return "rate_limiter" }

func (l *Limiter) Process(ctx context.Context, req *pipeline.Request, next pipeline.Handler) (*pipeline.Response, error) {
	if req.Method != http.MethodPost {
		return next.Handle(ctx, req)
	}

	key := l.cfg.KeyFunc(req)
	now := l.now()
	entry, allowed, err := l.store.Take(ctx, key, l.cfg.MaxRequests, l.cfg.Window, now)
	if err != nil {
		// counters unavailable: fail open, the flood guard still applies
		log.FromContext(ctx).Error(ctx, err, "rate limit store unavailable, allowing request", "key", key)
		return next.Handle(ctx, req)
	}

	if !allowed {
		if l.onDenied != nil {
			l.onDenied(key)
		}
		retry := retryAfter(entry.ResetAt, now)
		resp := pipeline.TooManyRequests(l.cfg.Message, l.cfg.MaxRequests, l.cfg.Window, entry.ResetAt, retry).Response()
		l.setHeaders(resp.Header, entry)
		resp.Header.Set("Retry-After", strconv.Itoa(retry))
		return resp, nil
	}

	resp, err := next.Handle(ctx, req)

	failed := err != nil || resp == nil || resp.Status >= http.StatusInternalServerError
	succeeded := !failed && resp.Status >= http.StatusOK && resp.Status < http.StatusMultipleChoices
	if (succeeded && l.cfg.SkipSuccessfulRequests) || (failed && l.cfg.SkipFailedRequests) {
		released, rerr := l.store.Release(ctx, key, entry)
		if rerr != nil {
			log.FromContext(ctx).Error(ctx, rerr, "rate limit release failed", "key", key)
		} else {
			entry = released
		}
	}

	if resp != nil {
		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		l.setHeaders(resp.Header, entry)
	}
	return resp, err
}

func (l *Limiter) setHeaders(h http.Header, e Entry) {
	h.Set(HeaderLimit, strconv.Itoa(l.cfg.MaxRequests))
	h.Set(HeaderRemaining, strconv.Itoa(max(0, l.cfg.MaxRequests-e.Count)))
	h.Set(HeaderReset, strconv.FormatInt(e.ResetAt.UnixMilli(), 10))
}

// retryAfter is whole seconds until reset, at least 1
func retryAfter(reset, now time.Time) int {
	s := int(math.Ceil(reset.Sub(now).Seconds()))
	return max(1, s)
}
