package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/httpmw"
)

// visitor tracks one IP's bucket and last activity
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged flips on the first denial so the log hook fires once per visitor
	logged bool
}

// FloodGuard holds per-IP token buckets with background eviction.
type FloodGuard struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond rate.Limit
	burst     int
	ttl       time.Duration

	onFirstDenied func(ip string)
	onDenied      func(ip string)
}

type FloodOption func(*FloodGuard)

// WithRate sets the refill rate and bucket size: WithRate(2, 20) allows 20
// requests at once, then 2 per second.
func WithRate(perSecond float64, burst int) FloodOption {
	return func(g *FloodGuard) {
		g.perSecond = rate.Limit(perSecond)
		g.burst = burst
	}
}

// WithTTL controls how long an idle IP stays tracked.
func WithTTL(d time.Duration) FloodOption {
	return func(g *FloodGuard) { g.ttl = d }
}

// WithOnFirstDenied runs once per visitor when it first gets limited, for logging.
func WithOnFirstDenied(fn func(ip string)) FloodOption {
	return func(g *FloodGuard) { g.onFirstDenied = fn }
}

// WithOnFloodDenied runs on every denial, for metrics.
func WithOnFloodDenied(fn func(ip string)) FloodOption {
	return func(g *FloodGuard) { g.onDenied = fn }
}

// NewFloodGuard starts eviction tied to ctx.
func NewFloodGuard(ctx context.Context, opts ...FloodOption) *FloodGuard {
	g := &FloodGuard{
		visitors:  make(map[string]*visitor),
		perSecond: 5,
		burst:     20,
		ttl:       5 * time.Minute,
	}
	for _, o := range opts {
		o(g)
	}
	go g.cleanup(ctx)
	return g
}

// allow reports whether ip has a token, and if not how long until one refills
func (g *FloodGuard) allow(ip string, now time.Time) (bool, time.Duration) {
	g.mu.Lock()
	v, ok := g.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(g.perSecond, g.burst)}
		g.visitors[ip] = v
	}
	v.lastSeen = now
	if v.limiter.AllowN(now, 1) {
		g.mu.Unlock()
		return true, 0
	}
	first := !v.logged
	v.logged = true
	wait := time.Duration(float64(time.Second) / float64(g.perSecond))
	// hooks may be slow, never run them under the lock
	g.mu.Unlock()

	if first && g.onFirstDenied != nil {
		g.onFirstDenied(ip)
	}
	if g.onDenied != nil {
		g.onDenied(ip)
	}
	return false, wait
}

func (g *FloodGuard) cleanup(ctx context.Context) {
	t := time.NewTicker(g.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			g.evict(now)
		}
	}
}

func (g *FloodGuard) evict(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ip, v := range g.visitors {
		if now.Sub(v.lastSeen) > g.ttl {
			delete(g.visitors, ip)
		}
	}
}

// Middleware rejects requests over the per-IP budget with 429.
func (g *FloodGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := g.allow(httpmw.ClientIPFromContext(r.Context()), time.Now())
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		secs := max(1, int(math.Ceil(wait.Seconds())))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.WriteHeader(http.StatusTooManyRequests)
		// no budget details here, unlike the subscription limiter
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"status":  http.StatusTooManyRequests,
				"name":    "TooManyRequestsError",
				"message": "Too many requests",
				"details": map[string]any{"errors": []any{}},
			},
		})
	})
}
