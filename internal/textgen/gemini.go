package textgen

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

// GeminiModel calls the Gemini API.
type GeminiModel struct {
	models *genai.Models
	model  string
}

func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, xerrors.New("gemini api key is required")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "create genai client")
	}
	return &GeminiModel{models: client.Models, model: model}, nil
}

func (m *GeminiModel) Name() string { return m.model }

func (m *GeminiModel) Generate(ctx context.Context, prompt string, p Params) (Output, error) {
	resp, err := m.models.GenerateContent(ctx, m.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.Temperature)),
		MaxOutputTokens: int32(p.MaxTokens),
	})
	if err != nil {
		return Output{}, providerError(err)
	}

	out := Output{Text: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens: int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// providerError maps API failures to messages safe to show an admin
func providerError(err error) error {
	code := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ProviderError{Status: code, Message: "Invalid Gemini API key", Err: err}
	case http.StatusTooManyRequests:
		return &ProviderError{Status: code, Message: "Rate limit exceeded. Please try again later", Err: err}
	case http.StatusBadRequest:
		return &ProviderError{Status: code, Message: "Invalid request parameters", Err: err}
	}
	return &ProviderError{Status: code, Message: "Text generation failed", Err: err}
}
