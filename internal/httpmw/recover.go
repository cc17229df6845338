package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
)

// Recover turns a handler panic into a logged error and a 500. onPanic, when
// set, runs after logging (used for the panic counter). http.ErrAbortHandler
// is re-panicked so net/http can abort the connection quietly.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				err, ok := v.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", v)
				}
				logger.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				).Error(r.Context(), err, "httpserver panic recovered", "stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic()
				}
				writeJSONError(w, http.StatusInternalServerError, "InternalServerError", "Internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
