package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
)

func TestWithLogger_AccessLog(t *testing.T) {
	rl := log.NewRecorder()

	r := chi.NewRouter()
	r.Use(AccessLog())
	r.Post("/newsletter-subscription", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	h := Chain(r,
		RequestID(""),
		ClientIPWithOptions(ClientIPOptions{}),
		WithLogger(rl),
	)

	req := httptest.NewRequest(http.MethodPost, "/newsletter-subscription", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	h.ServeHTTP(httptest.NewRecorder(), req)

	e, ok := rl.Find("http request")
	if !ok {
		t.Fatal("access log line missing")
	}
	if e.Level != "info" {
		t.Fatalf("level = %s, want info", e.Level)
	}
	checks := map[string]any{
		"http.response.status_code": http.StatusCreated,
		"http.route":                "/newsletter-subscription",
		"client.address":            "203.0.113.5",
		"http.request.method":       http.MethodPost,
		"http.response.body.size":   int64(11),
	}
	for k, want := range checks {
		if e.KV[k] != want {
			t.Errorf("%s = %v, want %v", k, e.KV[k], want)
		}
	}
	if id, _ := e.KV["request_id"].(string); id == "" {
		t.Error("request_id missing")
	}
}

func TestAccessLog_SkipsProbes(t *testing.T) {
	rl := log.NewRecorder()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), WithLogger(rl), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/healthy", nil))
	if len(rl.Entries()) != 0 {
		t.Fatal("probe requests should not be logged")
	}
}

func TestAccessLog_ServerErrorsWarn(t *testing.T) {
	rl := log.NewRecorder()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}), WithLogger(rl), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if e, _ := rl.Find("http request"); e.Level != "warn" {
		t.Fatalf("level = %q, want warn", e.Level)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	if got := schemeFromRequest(r); got != "https" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "gopher")
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("unexpected scheme accepted: %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Content-Type-Options", "Cache-Control"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}
