package cfg

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

// Policy tunes the subscription request pipeline. Anything missing from the
// policy file keeps its DefaultPolicy value.
type Policy struct {
	RateLimit    RateLimitPolicy    `koanf:"rate_limit"`
	Sanitize     SanitizePolicy     `koanf:"sanitize"`
	Email        EmailPolicy        `koanf:"email"`
	Subscription SubscriptionPolicy `koanf:"subscription"`
	Logging      LoggingPolicy      `koanf:"logging"`
}

type RateLimitPolicy struct {
	Window                 time.Duration `koanf:"window"`
	MaxRequests            int           `koanf:"max_requests"`
	SkipSuccessfulRequests bool          `koanf:"skip_successful_requests"`
	SkipFailedRequests     bool          `koanf:"skip_failed_requests"`
	SweepInterval          time.Duration `koanf:"sweep_interval"`
}

type SanitizePolicy struct {
	MaxLength map[string]int `koanf:"max_length"`
}

type EmailPolicy struct {
	AllowedDomains []string `koanf:"allowed_domains"`
	BlockedDomains []string `koanf:"blocked_domains"`
}

type SubscriptionPolicy struct {
	AllowDuplicates bool `koanf:"allow_duplicates"`
	RequireFullName bool `koanf:"require_full_name"`
	MinNameLength   int  `koanf:"min_name_length"`
	MaxNameLength   int  `koanf:"max_name_length"`
}

type LoggingPolicy struct {
	LogRequestBody        bool     `koanf:"log_request_body"`
	LogResponseBody       bool     `koanf:"log_response_body"`
	LogSuccessfulRequests bool     `koanf:"log_successful_requests"`
	LogFailedRequests     bool     `koanf:"log_failed_requests"`
	SensitiveFields       []string `koanf:"sensitive_fields"`
	MaxBodyLength         int      `koanf:"max_body_length"`
}

func DefaultPolicy() Policy {
	return Policy{
		RateLimit: RateLimitPolicy{
			Window:             15 * time.Minute,
			MaxRequests:        5,
			SkipFailedRequests: true,
			SweepInterval:      5 * time.Minute,
		},
		Sanitize: SanitizePolicy{
			MaxLength: map[string]int{"email": 254, "fullname": 100},
		},
		Subscription: SubscriptionPolicy{
			RequireFullName: true,
			MinNameLength:   2,
			MaxNameLength:   100,
		},
		Logging: LoggingPolicy{
			LogSuccessfulRequests: true,
			LogFailedRequests:     true,
			SensitiveFields:       []string{"password", "token", "apiKey", "secret", "key"},
			MaxBodyLength:         1000,
		},
	}
}

// LoadPolicy layers the YAML file at path over DefaultPolicy. An empty path
// returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Policy{}, xerrors.Wrapf(err, "load policy file %s", path)
	}
	if err := k.Unmarshal("", &p); err != nil {
		return Policy{}, xerrors.Wrapf(err, "decode policy file %s", path)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, xerrors.Wrapf(err, "policy file %s", path)
	}
	return p, nil
}

func (p Policy) Validate() error {
	var errs []error
	if p.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window must be > 0 (got %s)", p.RateLimit.Window))
	}
	if p.RateLimit.MaxRequests < 1 {
		errs = append(errs, fmt.Errorf("rate_limit.max_requests must be >= 1 (got %d)", p.RateLimit.MaxRequests))
	}
	if p.RateLimit.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.sweep_interval must be > 0 (got %s)", p.RateLimit.SweepInterval))
	}
	for field, n := range p.Sanitize.MaxLength {
		if n < 1 {
			errs = append(errs, fmt.Errorf("sanitize.max_length.%s must be >= 1 (got %d)", field, n))
		}
	}
	for _, d := range append(append([]string(nil), p.Email.AllowedDomains...), p.Email.BlockedDomains...) {
		if strings.TrimSpace(d) == "" || strings.Contains(d, "@") {
			errs = append(errs, fmt.Errorf("email domain lists must hold bare domains (got %q)", d))
		}
	}
	s := p.Subscription
	if s.MinNameLength < 1 || s.MaxNameLength < s.MinNameLength {
		errs = append(errs, fmt.Errorf("subscription name length bounds invalid (min %d, max %d)", s.MinNameLength, s.MaxNameLength))
	}
	if p.Logging.MaxBodyLength < 1 {
		errs = append(errs, fmt.Errorf("logging.max_body_length must be >= 1 (got %d)", p.Logging.MaxBodyLength))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
