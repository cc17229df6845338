package stages

import (
	"context"
	"net/http"
	"testing"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
)

// terminal records whether it ran and answers 201 with the payload it saw
type terminal struct {
	called bool
	seen   map[string]any
}

func (h *terminal) Handle(_ context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	h.called = true
	h.seen = req.Data
	return pipeline.OK(http.StatusCreated, req.Data, "created"), nil
}

func postData(data map[string]any) *pipeline.Request {
	return &pipeline.Request{
		ID:         "req-1",
		Method:     http.MethodPost,
		Path:       "/newsletter-subscription",
		ClientAddr: "203.0.113.9",
		Data:       data,
	}
}

func mustError(t *testing.T, resp *pipeline.Response, status int, message string) *pipeline.Error {
	t.Helper()
	if resp == nil {
		t.Fatal("nil response")
	}
	if resp.Status != status {
		t.Fatalf("status = %d, want %d", resp.Status, status)
	}
	e, ok := pipeline.ErrorOf(resp)
	if !ok {
		t.Fatalf("response body is %T, want error body", resp.Body)
	}
	if message != "" && e.Message != message {
		t.Fatalf("message = %q, want %q", e.Message, message)
	}
	return e
}
