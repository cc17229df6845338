package httpmw

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// RequireBearer guards admin routes with a single static bearer token.
// An empty token disables the routes entirely (503) rather than opening them.
func RequireBearer(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeJSONError(w, http.StatusServiceUnavailable, "ServiceUnavailableError", "Admin API is not configured")
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			sum := sha256.Sum256([]byte(strings.TrimSpace(got)))
			if !ok || subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				writeJSONError(w, http.StatusUnauthorized, "UnauthorizedError", "Missing or invalid credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes the API error body for failures raised before a
// request reaches the pipeline
func writeJSONError(w http.ResponseWriter, status int, name, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"status":  status,
			"name":    name,
			"message": message,
			"details": map[string]any{"errors": []any{}},
		},
	})
}
