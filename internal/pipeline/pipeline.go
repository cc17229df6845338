package pipeline

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

// Request is the transport-neutral view of an inbound call. Body holds the
// raw payload; Data holds it decoded, with any {"data": ...} envelope
// removed, once Decode has run.
type Request struct {
	ID         string
	Method     string
	Path       string
	Query      string
	ClientAddr string
	UserAgent  string
	Referer    string
	Header     http.Header
	Body       []byte
	Data       map[string]any
	ReceivedAt time.Time

	readErr   *Error
	decoded   bool
	decodeErr *Error
}

// String returns Data[field] when it is a string.
func (r *Request) String(field string) (string, bool) {
	if r.Data == nil {
		return "", false
	}
	s, ok := r.Data[field].(string)
	return s, ok
}

func (r *Request) Set(field string, v any) {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[field] = v
}

// URL is path plus query, for logging.
func (r *Request) URL() string {
	if r.Query == "" {
		return r.Path
	}
	return r.Path + "?" + r.Query
}

type Response struct {
	Status int
	Header http.Header
	Body   any
}

func NewResponse(status int, body any) *Response {
	return &Response{Status: status, Header: make(http.Header), Body: body}
}

// Envelope is the success body shape.
type Envelope struct {
	Data any            `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// OK wraps data in the success envelope, with meta.message when msg is set.
func OK(status int, data any, msg string) *Response {
	env := Envelope{Data: data}
	if msg != "" {
		env.Meta = map[string]any{"message": msg}
	}
	return NewResponse(status, env)
}

type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

type Stage interface {
	Name() string
	Process(ctx context.Context, req *Request, next Handler) (*Response, error)
}

// Pipeline is an ordered list of stages; the first stage sees the request first.
type Pipeline struct {
	stages []Stage
}

// New skips nil stages so optional stages can be passed unconditionally.
func New(stages ...Stage) *Pipeline {
	p := &Pipeline{}
	for _, s := range stages {
		if s != nil {
			p.stages = append(p.stages, s)
		}
	}
	return p
}

// Names lists the stages in execution order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

// Then returns a Handler that runs every stage and finally h. Each stage gets
// its own span, nested under the previous stage's.
func (p *Pipeline) Then(h Handler) Handler {
	tracer := otelx.Tracer("pipeline")
	for i := len(p.stages) - 1; i >= 0; i-- {
		s, next := p.stages[i], h
		h = HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			ctx, span := tracer.Start(ctx, "stage "+s.Name(),
				trace.WithAttributes(attribute.String("pipeline.stage", s.Name())))
			defer span.End()

			resp, err := s.Process(ctx, req, next)
			if err == nil && resp == nil {
				err = xerrors.Newf("stage %s returned no response", s.Name())
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
			return resp, nil
		})
	}
	return h
}

// Number returns Data[field] as a float64 for JSON numbers.
func (r *Request) Number(field string) (float64, bool) {
	if r.Data == nil {
		return 0, false
	}
	switch v := r.Data[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
