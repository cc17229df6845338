package stages

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	// paired tags go with everything between them
	pairedTags = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`),
		regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`),
		regexp.MustCompile(`(?is)<object\b[^>]*>.*?</object\s*>`),
	}
	// unpaired openers, stray closers and void tags
	looseTags = regexp.MustCompile(`(?i)</?(script|iframe|object|embed|link|meta)\b[^>]*>`)

	scriptSchemes = regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)
	eventHandlers = regexp.MustCompile(`(?i)on\w+\s*=`)

	entities = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
		"/", "&#x2F;",
	)
)

// maxStripPasses bounds the strip loop for nested payloads like "javajavascript:script:"
const maxStripPasses = 8

// SanitizeString neutralizes markup in s. Dangerous tags and script
// patterns are removed first, then the remaining markup characters are
// entity-encoded and the result trimmed.
func SanitizeString(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	for i := 0; i < maxStripPasses; i++ {
		prev := s
		for _, re := range pairedTags {
			s = re.ReplaceAllString(s, "")
		}
		s = looseTags.ReplaceAllString(s, "")
		s = scriptSchemes.ReplaceAllString(s, "")
		s = eventHandlers.ReplaceAllString(s, "")
		if s == prev {
			break
		}
	}
	return strings.TrimSpace(entities.Replace(s))
}

// SanitizeValue applies SanitizeString to every string inside v, descending
// into maps and slices. Other values pass through unchanged.
func SanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = SanitizeValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = SanitizeValue(x)
		}
		return out
	default:
		return v
	}
}

type SanitizerConfig struct {
	// MaxLength caps top-level string fields, counted in characters after
	// sanitization.
	MaxLength map[string]int
}

func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{MaxLength: map[string]int{"email": 254, "fullname": 100}}
}

// Sanitizer cleans POST and PUT payloads in place and enforces max lengths.
type Sanitizer struct {
	fields []string
	limits map[string]int
}

func NewSanitizer(cfg SanitizerConfig) *Sanitizer {
	s := &Sanitizer{limits: make(map[string]int, len(cfg.MaxLength))}
	for f, n := range cfg.MaxLength {
		s.limits[f] = n
		s.fields = append(s.fields, f)
	}
	// stable error order
	sort.Strings(s.fields)
	return s
}

func (s *Sanitizer) Name() string { return "input_sanitizer" }

func (s *Sanitizer) Process(ctx context.Context, req *pipeline.Request, next pipeline.Handler) (*pipeline.Response, error) {
	if !isWrite(req.Method) {
		return next.Handle(ctx, req)
	}
	if req.Data != nil {
		req.Data = SanitizeValue(req.Data).(map[string]any)
	}

	var errs []pipeline.FieldError
	for _, f := range s.fields {
		v, ok := req.String(f)
		if !ok {
			continue
		}
		if limit := s.limits[f]; utf8.RuneCountInString(v) > limit {
			errs = append(errs, pipeline.Field(f, fmt.Sprintf("%s exceeds maximum length of %d characters", f, limit)))
		}
	}
	if len(errs) > 0 {
		return pipeline.Validation("Input validation failed", errs...).Response(), nil
	}
	return next.Handle(ctx, req)
}
