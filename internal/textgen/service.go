package textgen

import (
	"context"
	"strings"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

type Service struct {
	model     Model
	modelName string
	hasKey    bool
	onResult  func(ok bool)
}

type Option func(*Service)

func WithOnResult(fn func(ok bool)) Option {
	return func(s *Service) { s.onResult = fn }
}

// NewService accepts a nil model; Generate then fails with ErrNotReady and
// Status reports not_ready. modelName and hasKey feed Status only.
func NewService(model Model, modelName string, hasKey bool, opts ...Option) *Service {
	s := &Service{model: model, modelName: modelName, hasKey: hasKey}
	if model != nil {
		s.modelName = model.Name()
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	params, err := req.Validate()
	if err != nil {
		return Result{}, err
	}
	if s.model == nil {
		return Result{}, ErrNotReady
	}

	processed := Preprocess(req.Prompt)
	out, err := s.model.Generate(ctx, instruction+processed, params)
	s.report(err == nil)
	if err != nil {
		return Result{}, xerrors.Wrap(err, "generate text")
	}

	text := strings.TrimSpace(out.Text)
	log.FromContext(ctx).Debug(ctx, "text generated", "chars", len(text), "tokens", out.Usage.TotalTokens)
	return Result{
		Text:            text,
		Usage:           out.Usage,
		Model:           s.modelName,
		ProcessedPrompt: processed,
		OriginalPrompt:  req.Prompt,
	}, nil
}

func (s *Service) Status() Status {
	st := Status{
		Initialized: s.model != nil,
		HasAPIKey:   s.hasKey,
		Model:       s.modelName,
		Status:      "not_ready",
	}
	if st.Initialized && st.HasAPIKey {
		st.Status = "ready"
	}
	return st
}

func (s *Service) report(ok bool) {
	if s.onResult != nil {
		s.onResult(ok)
	}
}
