package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractRealClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		hops       int
		want       string
		xffKept    bool
	}{
		{"public peer ignores XFF", "203.0.113.1:1234", "10.0.0.1", 1, "203.0.113.1", false},
		{"private peer no hops ignores XFF", "10.0.0.1:1234", "203.0.113.50", 0, "10.0.0.1", false},
		{"single proxy takes rightmost", "10.0.0.1:1234", "198.51.100.7, 203.0.113.50", 1, "203.0.113.50", true},
		{"two proxies take second from end", "10.0.0.1:1234", "198.51.100.7, 203.0.113.50, 10.0.0.9", 2, "203.0.113.50", true},
		{"too few entries fails closed", "10.0.0.1:1234", "203.0.113.50", 3, "10.0.0.1", false},
		{"garbage entry falls back to peer", "10.0.0.1:1234", "not-an-ip", 1, "10.0.0.1", true},
		{"no XFF from proxy", "192.168.1.1:1234", "", 1, "192.168.1.1", false},
		{"loopback peer trusted like private", "127.0.0.1:1234", "203.0.113.9", 1, "203.0.113.9", true},
		{"unparseable remote addr", "bogus", "", 1, "bogus", false},
		{"non ip host", "example.com:80", "", 1, "0.0.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := extractRealClientAddr(r, tt.hops); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if kept := r.Header.Get("X-Forwarded-For") != ""; kept != tt.xffKept {
				t.Fatalf("X-Forwarded-For kept = %v, want %v", kept, tt.xffKept)
			}
		})
	}
}

func TestClientIPWithOptions_StoresInContext(t *testing.T) {
	var got string
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.23")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "198.51.100.23" {
		t.Fatalf("client ip = %q, want 198.51.100.23", got)
	}
}
