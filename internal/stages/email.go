package stages

import (
	"context"
	"regexp"
	"strings"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/subscription"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// DisposableDomains are throwaway mailbox providers refused outright.
var DisposableDomains = []string{
	"10minutemail.com",
	"tempmail.org",
	"guerrillamail.com",
	"mailinator.com",
	"throwaway.email",
	"temp-mail.org",
	"yopmail.com",
}

type EmailConfig struct {
	// AllowedDomains, when non-empty, is the only set of domains accepted.
	AllowedDomains []string
	BlockedDomains []string
}

// EmailValidator checks format and domain of the email field on POST and
// PUT, and rewrites it to its normalized form.
type EmailValidator struct {
	disposable domainSet
	allowed    domainSet
	blocked    domainSet
}

func NewEmailValidator(cfg EmailConfig) *EmailValidator {
	return &EmailValidator{
		disposable: newDomainSet(DisposableDomains),
		allowed:    newDomainSet(cfg.AllowedDomains),
		blocked:    newDomainSet(cfg.BlockedDomains),
	}
}

func (v *EmailValidator) Name() string { return "email_validator" }

func (v *EmailValidator) Process(ctx context.Context, req *pipeline.Request, next pipeline.Handler) (*pipeline.Response, error) {
	if !isWrite(req.Method) {
		return next.Handle(ctx, req)
	}
	if e := v.check(req); e != nil {
		return e.Response(), nil
	}
	return next.Handle(ctx, req)
}

func (v *EmailValidator) check(req *pipeline.Request) *pipeline.Error {
	raw, present := req.Data["email"]
	if raw == nil || !present {
		return pipeline.Validation("Email is required", pipeline.Field("email", "Email field is required"))
	}
	s, ok := raw.(string)
	if !ok {
		return pipeline.Validation("Invalid email format", pipeline.Field("email", "Please provide a valid email address"))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return pipeline.Validation("Email is required", pipeline.Field("email", "Email field is required"))
	}
	if !emailPattern.MatchString(s) {
		return pipeline.Validation("Invalid email format", pipeline.Field("email", "Please provide a valid email address"))
	}

	email := subscription.NormalizeEmail(s)
	domain := email[strings.LastIndexByte(email, '@')+1:]
	switch {
	case v.disposable.match(domain):
		return pipeline.Validation("Disposable email addresses are not allowed", pipeline.Field("email", "Please use a permanent email address"))
	case v.blocked.match(domain):
		return pipeline.Validation("Email domain is not allowed", pipeline.Field("email", "This email domain is not permitted"))
	case len(v.allowed) > 0 && !v.allowed.match(domain):
		return pipeline.Validation("Email domain is not allowed", pipeline.Field("email", "Only specific email domains are permitted"))
	}

	req.Set("email", email)
	return nil
}

// domainSet matches a domain or any of its subdomains
type domainSet map[string]struct{}

func newDomainSet(domains []string) domainSet {
	s := make(domainSet, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			s[d] = struct{}{}
		}
	}
	return s
}

func (s domainSet) match(domain string) bool {
	for d := domain; d != ""; {
		if _, ok := s[d]; ok {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return false
}
