package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

func TestStatusWriter(t *testing.T) {
	t.Run("explicit header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		sw := &statusWriter{ResponseWriter: rec}
		sw.WriteHeader(http.StatusConflict)
		sw.Write([]byte(`{"error":{}}`))

		if sw.status != http.StatusConflict || rec.Code != http.StatusConflict {
			t.Fatalf("status = %d / %d, want 409", sw.status, rec.Code)
		}
		if sw.n != 12 {
			t.Fatalf("bytes = %d, want 12", sw.n)
		}
	})

	t.Run("implicit 200 and byte accumulation", func(t *testing.T) {
		sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
		sw.Write([]byte("aaa"))
		sw.Write([]byte("bbbbb"))

		if sw.status != http.StatusOK {
			t.Fatalf("status = %d, want 200", sw.status)
		}
		if sw.n != 8 {
			t.Fatalf("bytes = %d, want 8", sw.n)
		}
	})
}

func requestLabels(t *testing.T, m *ServerMetrics) map[string]string {
	t.Helper()
	f := gatherMetric(t, m.reg, "http_requests_total")
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatal("http_requests_total not found")
	}
	return labelMap(f.GetMetric()[0])
}

func TestMiddleware_ChiRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Post("/newsletter-subscription", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/newsletter-subscription", http.NoBody))

	labels := requestLabels(t, m)
	if labels["route"] != "/newsletter-subscription" {
		t.Fatalf("route = %q", labels["route"])
	}
	if labels["method"] != http.MethodPost || labels["status"] != "201" {
		t.Fatalf("labels = %v", labels)
	}
}

func TestMiddleware_UnroutedPathsCollapse(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/newsletter-subscription", func(w http.ResponseWriter, r *http.Request) {})

	for _, p := range []string{"/wp-login.php", "/.env", "/admin/config"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, http.NoBody))
	}

	f := gatherMetric(t, m.reg, "http_requests_total")
	if len(f.GetMetric()) != 1 {
		t.Fatalf("label combos = %d, want 1", len(f.GetMetric()))
	}
	labels := labelMap(f.GetMetric()[0])
	if labels["route"] != unmatchedRoute || labels["status"] != "404" {
		t.Fatalf("labels = %v", labels)
	}
	if v := f.GetMetric()[0].GetCounter().GetValue(); v != 3 {
		t.Fatalf("count = %f, want 3", v)
	}
}

func TestMiddleware_WithoutRouterUsesUnmatched(t *testing.T) {
	m := New()

	var hasRouteCtx bool
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasRouteCtx = chi.RouteContext(r.Context()) != nil
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/custom/path", http.NoBody))

	if !hasRouteCtx {
		t.Fatal("middleware should inject chi route context when missing")
	}
	labels := requestLabels(t, m)
	if labels["route"] != unmatchedRoute {
		t.Fatalf("route = %q, want %q", labels["route"], unmatchedRoute)
	}
	if labels["status"] != "200" {
		t.Fatalf("status = %q, want 200 (handler wrote nothing)", labels["status"])
	}
}

func TestMiddleware_InflightGauge(t *testing.T) {
	m := New()

	var during float64
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = gatherMetric(t, m.reg, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if during != 1 {
		t.Fatalf("inflight during request = %f, want 1", during)
	}
	if after := gatherMetric(t, m.reg, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue(); after != 0 {
		t.Fatalf("inflight after request = %f, want 0", after)
	}
}

func TestMiddleware_DurationAndSize(t *testing.T) {
	m := New()

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	}

	if n := histogramCount(t, m.reg, "http_request_duration_seconds"); n != 3 {
		t.Fatalf("duration count = %d, want 3", n)
	}
	h := gatherMetric(t, m.reg, "http_response_size_bytes").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 3 || h.GetSampleSum() != 33 {
		t.Fatalf("size count=%d sum=%f, want 3/33", h.GetSampleCount(), h.GetSampleSum())
	}
}

func TestMiddleware_ResponsePassthrough(t *testing.T) {
	m := New()

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "900")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", http.NoBody))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "900" {
		t.Fatal("header not passed through")
	}
	if rec.Body.String() != "slow down" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestTraceExemplar(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")

	sampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))
	if ex := traceExemplar(sampled); ex["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("exemplar = %v", ex)
	}

	unsampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID,
	}))
	if ex := traceExemplar(unsampled); ex != nil {
		t.Fatalf("unsampled exemplar = %v, want nil", ex)
	}
	if ex := traceExemplar(context.Background()); ex != nil {
		t.Fatalf("no-trace exemplar = %v, want nil", ex)
	}
}
