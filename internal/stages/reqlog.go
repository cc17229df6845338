package stages

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
)

const (
	redacted       = "[REDACTED]"
	unserializable = "[Unable to serialize data]"
	truncatedMark  = "...[truncated]"
)

type LoggerConfig struct {
	LogRequestBody        bool
	LogResponseBody       bool
	LogSuccessfulRequests bool
	LogFailedRequests     bool
	SensitiveFields       []string
	MaxBodyLength         int
}

func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		LogSuccessfulRequests: true,
		LogFailedRequests:     true,
		SensitiveFields:       []string{"password", "token", "apiKey", "secret", "key"},
		MaxBodyLength:         1000,
	}
}

// RequestLogger wraps the rest of the pipeline. It logs the request, the
// outcome and security-relevant rejections, and never changes the response.
type RequestLogger struct {
	cfg        LoggerConfig
	sensitive  map[string]bool
	now        func() time.Time
	onComplete func(status int, d time.Duration)
}

type LoggerOption func(*RequestLogger)

func WithLoggerClock(now func() time.Time) LoggerOption {
	return func(l *RequestLogger) { l.now = now }
}

// WithOnComplete observes every finished request, for metrics.
func WithOnComplete(fn func(status int, d time.Duration)) LoggerOption {
	return func(l *RequestLogger) { l.onComplete = fn }
}

func NewRequestLogger(cfg LoggerConfig, opts ...LoggerOption) *RequestLogger {
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = DefaultLoggerConfig().MaxBodyLength
	}
	l := &RequestLogger{cfg: cfg, sensitive: make(map[string]bool), now: time.Now}
	for _, f := range cfg.SensitiveFields {
		l.sensitive[strings.ToLower(f)] = true
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *RequestLogger) Name() string { return "request_logger" }

func (l *RequestLogger) Process(ctx context.Context, req *pipeline.Request, next pipeline.Handler) (*pipeline.Response, error) {
	L := log.FromContext(ctx)
	start := l.now()

	if l.cfg.LogSuccessfulRequests || l.cfg.LogFailedRequests {
		kv := []any{
			"request_id", req.ID,
			"method", req.Method,
			"url", req.URL(),
			"user_agent", req.UserAgent,
			"client_address", req.ClientAddr,
			"referer", req.Referer,
			"timestamp", start.UTC().Format(time.RFC3339Nano),
		}
		if l.cfg.LogRequestBody && req.Decode() == nil && len(req.Data) > 0 {
			kv = append(kv, "body", l.format(req.Data))
		}
		L.Info(ctx, "subscription request started", kv...)
	}

	resp, err := next.Handle(ctx, req)
	elapsed := l.now().Sub(start)

	status := http.StatusInternalServerError
	if err == nil && resp != nil {
		status = resp.Status
	}
	if l.onComplete != nil {
		l.onComplete(status, elapsed)
	}

	kv := []any{
		"request_id", req.ID,
		"method", req.Method,
		"url", req.URL(),
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		if l.cfg.LogFailedRequests {
			L.Error(ctx, err, "subscription request failed", kv...)
		}
		return resp, err
	}

	if l.cfg.LogResponseBody && resp.Body != nil {
		kv = append(kv, "response_body", l.format(resp.Body))
	}
	switch {
	case status >= http.StatusInternalServerError:
		if l.cfg.LogFailedRequests {
			L.Error(ctx, nil, "subscription request completed", kv...)
		}
	case status >= http.StatusBadRequest:
		if l.cfg.LogFailedRequests {
			L.Warn(ctx, "subscription request completed", kv...)
		}
	default:
		if l.cfg.LogSuccessfulRequests {
			L.Info(ctx, "subscription request completed", kv...)
		}
	}

	l.logSecurity(ctx, L, req, resp)
	return resp, nil
}

// logSecurity records rejections worth alerting on regardless of config
func (l *RequestLogger) logSecurity(ctx context.Context, L log.Logger, req *pipeline.Request, resp *pipeline.Response) {
	e, _ := pipeline.ErrorOf(resp)
	switch resp.Status {
	case http.StatusTooManyRequests:
		L.Warn(ctx, "security: rate limit exceeded",
			"client_address", req.ClientAddr,
			"url", req.URL(),
			"user_agent", req.UserAgent,
			"limit", resp.Header.Get("X-RateLimit-Limit"),
			"remaining", resp.Header.Get("X-RateLimit-Remaining"),
			"reset", resp.Header.Get("X-RateLimit-Reset"),
		)
	case http.StatusBadRequest:
		if e != nil && e.Name == pipeline.NameValidation {
			L.Warn(ctx, "security: validation failure",
				"client_address", req.ClientAddr,
				"url", req.URL(),
				"message", e.Message,
				"field_errors", e.Details.Errors,
			)
		}
	case http.StatusConflict:
		email := ""
		if e != nil {
			email = e.Details.Email
		}
		L.Info(ctx, "security: duplicate subscription attempt",
			"client_address", req.ClientAddr,
			"email", email,
		)
	}
}

// format renders v as redacted JSON no longer than MaxBodyLength characters
func (l *RequestLogger) format(v any) string {
	generic, ok := toGeneric(v)
	if !ok {
		return unserializable
	}
	b, err := json.Marshal(l.redact(generic))
	if err != nil {
		return unserializable
	}
	s := string(b)
	if r := []rune(s); len(r) > l.cfg.MaxBodyLength {
		return string(r[:l.cfg.MaxBodyLength]) + truncatedMark
	}
	return s
}

// toGeneric turns structs into maps so sensitive keys can be found
func toGeneric(v any) (any, bool) {
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (l *RequestLogger) redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			if l.sensitive[strings.ToLower(k)] {
				out[k] = redacted
				continue
			}
			out[k] = l.redact(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = l.redact(x)
		}
		return out
	default:
		return v
	}
}
