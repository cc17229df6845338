package textgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"
)

type fakeModel struct {
	prompt string
	params Params
	out    Output
	err    error
}

func (f *fakeModel) Name() string { return "fake-1" }

func (f *fakeModel) Generate(_ context.Context, prompt string, p Params) (Output, error) {
	f.prompt, f.params = prompt, p
	return f.out, f.err
}

func ptr[T any](v T) *T { return &v }

func TestPreprocess(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello   world ", "hello world"},
		{"<p>Write about</p><b>Go</b>", "Write about Go"},
		{"a\n\tb", "a b"},
		{strings.Repeat("é", 4100), strings.Repeat("é", MaxPromptRunes)},
	}
	for _, tt := range tests {
		if got := Preprocess(tt.in); got != tt.want {
			t.Fatalf("Preprocess(%.20q) = %.20q, want %.20q", tt.in, got, tt.want)
		}
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want Params
		msg  string
	}{
		{name: "defaults", req: Request{Prompt: "x"}, want: Params{Temperature: 0.7, MaxTokens: 250}},
		{name: "explicit", req: Request{Prompt: "x", Temperature: ptr(0.0), MaxTokens: ptr(1000)}, want: Params{Temperature: 0, MaxTokens: 1000}},
		{name: "no prompt", req: Request{Prompt: "  "}, msg: "Prompt is required"},
		{name: "hot", req: Request{Prompt: "x", Temperature: ptr(2.5)}, msg: "Temperature must be between 0 and 2"},
		{name: "cold", req: Request{Prompt: "x", Temperature: ptr(-0.1)}, msg: "Temperature must be between 0 and 2"},
		{name: "zero tokens", req: Request{Prompt: "x", MaxTokens: ptr(0)}, msg: "Max tokens must be between 1 and 1000"},
		{name: "many tokens", req: Request{Prompt: "x", MaxTokens: ptr(1001)}, msg: "Max tokens must be between 1 and 1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Validate()
			if tt.msg != "" {
				if !errors.Is(err, ErrInvalidParams) || Message(err) != tt.msg {
					t.Fatalf("err = %v, want %q", err, tt.msg)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("params (-want +got):\n%s", diff)
			}
		})
	}
}

func TestService_Generate(t *testing.T) {
	m := &fakeModel{out: Output{Text: "  Draft copy.\n", Usage: Usage{PromptTokens: 20, OutputTokens: 3, TotalTokens: 23}}}
	var results []bool
	s := NewService(m, "", true, WithOnResult(func(ok bool) { results = append(results, ok) }))

	res, err := s.Generate(context.Background(), Request{Prompt: "<h1>Spring</h1>  sale", MaxTokens: ptr(100)})
	if err != nil {
		t.Fatal(err)
	}
	want := Result{
		Text:            "Draft copy.",
		Usage:           Usage{PromptTokens: 20, OutputTokens: 3, TotalTokens: 23},
		Model:           "fake-1",
		ProcessedPrompt: "Spring sale",
		OriginalPrompt:  "<h1>Spring</h1>  sale",
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
	if m.prompt != instruction+"Spring sale" {
		t.Fatalf("prompt = %q", m.prompt)
	}
	if m.params != (Params{Temperature: 0.7, MaxTokens: 100}) {
		t.Fatalf("params = %+v", m.params)
	}
	if len(results) != 1 || !results[0] {
		t.Fatalf("results = %v", results)
	}
}

func TestService_GenerateErrors(t *testing.T) {
	perr := &ProviderError{Status: 429, Message: "Rate limit exceeded. Please try again later", Err: errors.New("quota")}
	s := NewService(&fakeModel{err: perr}, "", true)
	_, err := s.Generate(context.Background(), Request{Prompt: "x"})
	var got *ProviderError
	if !errors.As(err, &got) || got.Status != 429 {
		t.Fatalf("err = %v, want provider error", err)
	}

	if _, err := s.Generate(context.Background(), Request{Prompt: ""}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}

	unset := NewService(nil, "gemini-1.5-flash", false)
	if _, err := unset.Generate(context.Background(), Request{Prompt: "x"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestService_Status(t *testing.T) {
	if got := NewService(nil, "gemini-1.5-flash", false).Status(); got != (Status{Model: "gemini-1.5-flash", Status: "not_ready"}) {
		t.Fatalf("status = %+v", got)
	}
	if got := NewService(&fakeModel{}, "ignored", true).Status(); got != (Status{Initialized: true, HasAPIKey: true, Model: "fake-1", Status: "ready"}) {
		t.Fatalf("status = %+v", got)
	}
}

func TestProviderError_Mapping(t *testing.T) {
	tests := []struct {
		code int
		msg  string
	}{
		{401, "Invalid Gemini API key"},
		{429, "Rate limit exceeded. Please try again later"},
		{400, "Invalid request parameters"},
		{500, "Text generation failed"},
	}
	for _, tt := range tests {
		err := providerError(genai.APIError{Code: tt.code, Message: "upstream"})
		var perr *ProviderError
		if !errors.As(err, &perr) || perr.Status != tt.code || perr.Message != tt.msg {
			t.Fatalf("code %d: err = %v", tt.code, err)
		}
	}
	var perr *ProviderError
	if err := providerError(errors.New("dial tcp: timeout")); !errors.As(err, &perr) || perr.Status != 0 {
		t.Fatalf("network error mapped to %v", err)
	}
}
