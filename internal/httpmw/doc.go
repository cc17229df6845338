// Package httpmw provides the net/http middleware shared by the public API
// listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP extraction, OTEL tracing, trace
// response headers, metrics, request-scoped logger, then the chi router with
// route annotation, access logging and body limits.
//
// Request payloads are never logged here; the subscription pipeline decides
// what, if anything, of a body ends up in logs.
package httpmw
