package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
)

// HTTPHandler adapts a Handler to net/http: it reads the raw body, runs h
// and writes the response. Decoding is left to DecodeBody or Decoded.
type HTTPHandler struct {
	h   Handler
	now func() time.Time
}

type HTTPOption func(*HTTPHandler)

// WithClock overrides the time source used for ReceivedAt.
func WithClock(now func() time.Time) HTTPOption {
	return func(s *HTTPHandler) { s.now = now }
}

func NewHTTPHandler(h Handler, opts ...HTTPOption) *HTTPHandler {
	s := &HTTPHandler{h: h, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &Request{
		ID:         httpmw.RequestIDFromContext(ctx),
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		ClientAddr: httpmw.ClientIPFromContext(ctx),
		UserAgent:  r.UserAgent(),
		Referer:    r.Referer(),
		Header:     r.Header,
		ReceivedAt: s.now(),
	}
	req.Body, req.readErr = readBody(r)
	if req.Body == nil && req.readErr == nil {
		req.Data = map[string]any{}
	}

	resp, err := s.h.Handle(ctx, req)
	if err != nil {
		if e, ok := AsError(err); ok {
			resp = e.Response()
		} else {
			log.FromContext(ctx).Error(ctx, err, "request pipeline failed", "path", req.Path)
			resp = Internal().Response()
		}
	}
	WriteResponse(ctx, w, resp)
}

// readBody returns the raw body. GET and HEAD bodies are ignored. Read
// failures are kept for the decoder stage rather than answered here, so the
// request still passes through logging and rate limiting first.
func readBody(r *http.Request) ([]byte, *Error) {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &Error{
				Status:  http.StatusRequestEntityTooLarge,
				Name:    NamePayloadTooLarge,
				Message: "Request body too large",
			}
		}
		return nil, Validation("Unable to read request body", Field("body", "Request body could not be read"))
	}
	return raw, nil
}

// WriteResponse writes resp as JSON. A nil resp becomes a 500.
func WriteResponse(ctx context.Context, w http.ResponseWriter, resp *Response) {
	if resp == nil {
		resp = Internal().Response()
	}
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.Body == nil {
		w.WriteHeader(status)
		return
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp.Body); err != nil {
		log.FromContext(ctx).Error(ctx, err, "write response body")
	}
}
