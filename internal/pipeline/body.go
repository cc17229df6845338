package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
)

// Decode parses Body into Data once and caches the outcome. A request built
// with Data and no Body is left as is.
func (r *Request) Decode() *Error {
	if r.decoded {
		return r.decodeErr
	}
	r.decoded = true
	switch {
	case r.readErr != nil:
		r.decodeErr = r.readErr
	case len(bytes.TrimSpace(r.Body)) == 0:
		if r.Data == nil {
			r.Data = map[string]any{}
		}
	default:
		r.Data, r.decodeErr = decodeJSON(r.Body)
	}
	return r.decodeErr
}

// decodeJSON reads a JSON object. A top-level "data" object is unwrapped.
func decodeJSON(raw []byte) (map[string]any, *Error) {
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body == nil {
		return nil, Validation("Malformed JSON body", Field("body", "Request body must be a JSON object"))
	}
	if inner, ok := body["data"].(map[string]any); ok {
		return inner, nil
	}
	return body, nil
}

type bodyDecoder struct{}

// DecodeBody is the stage that turns the raw body into Data. It sits after
// the rate limiter so oversized or malformed bodies still count against the
// client and get logged.
func DecodeBody() Stage { return bodyDecoder{} }

func (bodyDecoder) Name() string { return "body_decoder" }

func (bodyDecoder) Process(ctx context.Context, req *Request, next Handler) (*Response, error) {
	if perr := req.Decode(); perr != nil {
		return perr.Response(), nil
	}
	return next.Handle(ctx, req)
}

// Decoded decodes the body before calling h. Handlers reached without a
// DecodeBody stage wrap themselves in it; decoding never runs twice.
func Decoded(h Handler) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if perr := req.Decode(); perr != nil {
			return perr.Response(), nil
		}
		return h.Handle(ctx, req)
	})
}
