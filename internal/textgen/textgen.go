// Package textgen drafts newsletter copy with a generative language model.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 250
	MaxPromptRunes     = 4000

	instruction = "You are a helpful content writer. Generate clear, engaging, and appropriate content based on the user's prompt: "
)

var (
	// ErrInvalidParams wraps every request validation failure.
	ErrInvalidParams = errors.New("invalid text generation parameters")
	// ErrNotReady means no model is configured.
	ErrNotReady = errors.New("text generation is not configured")
)

// Params are the sampling settings passed to the model.
type Params struct {
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens int `json:"promptTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

type Output struct {
	Text  string
	Usage Usage
}

type Model interface {
	Name() string
	Generate(ctx context.Context, prompt string, p Params) (Output, error)
}

// ProviderError is a failure reported by the model provider.
type ProviderError struct {
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Message + ": " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// Request is a generation call. Nil sampling fields take the defaults.
type Request struct {
	Prompt      string
	Temperature *float64
	MaxTokens   *int
}

type Result struct {
	Text            string `json:"text"`
	Usage           Usage  `json:"usage"`
	Model           string `json:"model"`
	ProcessedPrompt string `json:"processedPrompt"`
	OriginalPrompt  string `json:"originalPrompt"`
}

type Status struct {
	Initialized bool   `json:"initialized"`
	HasAPIKey   bool   `json:"hasApiKey"`
	Model       string `json:"model"`
	Status      string `json:"status"`
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// Preprocess strips markup, collapses whitespace and caps the prompt length.
func Preprocess(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > MaxPromptRunes {
		s = string(r[:MaxPromptRunes])
	}
	return s
}

// Validate fills defaults and checks ranges.
func (r Request) Validate() (Params, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return Params{}, fmt.Errorf("%w: Prompt is required", ErrInvalidParams)
	}
	p := Params{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.MaxTokens != nil {
		p.MaxTokens = *r.MaxTokens
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return Params{}, fmt.Errorf("%w: Temperature must be between 0 and 2", ErrInvalidParams)
	}
	if p.MaxTokens < 1 || p.MaxTokens > 1000 {
		return Params{}, fmt.Errorf("%w: Max tokens must be between 1 and 1000", ErrInvalidParams)
	}
	return p, nil
}

// Message is the client-facing part of a validation error.
func Message(err error) string {
	_, msg, ok := strings.Cut(err.Error(), ErrInvalidParams.Error()+": ")
	if !ok {
		return err.Error()
	}
	return msg
}
