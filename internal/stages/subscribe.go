package stages

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/subscription"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z\s\-']+$`)

const (
	MsgAlreadySubscribed = "Email is already subscribed to the newsletter"
	MsgReactivated       = "Subscription reactivated successfully"
)

type SubscriptionConfig struct {
	AllowDuplicates bool
	RequireFullName bool
	MinNameLength   int
	MaxNameLength   int
}

func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{RequireFullName: true, MinNameLength: 2, MaxNameLength: 100}
}

// Subscriptions is the part of subscription.Service the validator needs.
type Subscriptions interface {
	Lookup(ctx context.Context, email string) ([]subscription.Subscriber, error)
	Reactivate(ctx context.Context, existing subscription.Subscriber, fullName string) (subscription.Subscriber, error)
}

// Outcome labels what the validator did with a request, for metrics.
type Outcome string

const (
	OutcomeInvalid     Outcome = "invalid"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeReactivated Outcome = "reactivated"
	OutcomeNew         Outcome = "new"
)

// SubscriptionValidator checks the name and resolves duplicates on POST.
// Reactivations are answered here; new subscribers continue to the handler
// with subscribedAt and isActive stamped on the payload.
type SubscriptionValidator struct {
	cfg       SubscriptionConfig
	subs      Subscriptions
	now       func() time.Time
	onOutcome func(Outcome)
}

type SubscriptionOption func(*SubscriptionValidator)

func WithSubscriptionClock(now func() time.Time) SubscriptionOption {
	return func(v *SubscriptionValidator) { v.now = now }
}

func WithOnOutcome(fn func(Outcome)) SubscriptionOption {
	return func(v *SubscriptionValidator) { v.onOutcome = fn }
}

func NewSubscriptionValidator(subs Subscriptions, cfg SubscriptionConfig, opts ...SubscriptionOption) *SubscriptionValidator {
	d := DefaultSubscriptionConfig()
	if cfg.MinNameLength <= 0 {
		cfg.MinNameLength = d.MinNameLength
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = d.MaxNameLength
	}
	v := &SubscriptionValidator{cfg: cfg, subs: subs, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *SubscriptionValidator) Name() string { return "subscription_validator" }

func (v *SubscriptionValidator) outcome(o Outcome) {
	if v.onOutcome != nil {
		v.onOutcome(o)
	}
}

func (v *SubscriptionValidator) Process(ctx context.Context, req *pipeline.Request, next pipeline.Handler) (*pipeline.Response, error) {
	if req.Method != http.MethodPost {
		return next.Handle(ctx, req)
	}

	fullName, e := v.checkName(req)
	if e != nil {
		v.outcome(OutcomeInvalid)
		return e.Response(), nil
	}

	email, _ := req.String("email")
	if !v.cfg.AllowDuplicates && email != "" {
		if resp := v.resolveExisting(ctx, email, fullName); resp != nil {
			return resp, nil
		}
	}

	req.Set("subscribedAt", v.now().UTC())
	req.Set("isActive", true)
	v.outcome(OutcomeNew)
	return next.Handle(ctx, req)
}

// checkName validates and trims fullname. Rules apply to the entity-decoded
// text so names like O'Brien survive sanitization.
func (v *SubscriptionValidator) checkName(req *pipeline.Request) (string, *pipeline.Error) {
	raw, ok := req.String("fullname")
	name := strings.TrimSpace(raw)
	if !v.cfg.RequireFullName {
		if ok {
			req.Set("fullname", name)
		}
		return name, nil
	}
	if name == "" {
		return "", pipeline.Validation("Full name is required", pipeline.Field("fullname", "Full name is required"))
	}

	plain := html.UnescapeString(name)
	n := utf8.RuneCountInString(plain)
	switch {
	case n < v.cfg.MinNameLength:
		msg := fmt.Sprintf("Full name must be at least %d characters long", v.cfg.MinNameLength)
		return "", pipeline.Validation(msg, pipeline.Field("fullname", msg))
	case n > v.cfg.MaxNameLength:
		msg := fmt.Sprintf("Full name must not exceed %d characters", v.cfg.MaxNameLength)
		return "", pipeline.Validation(msg, pipeline.Field("fullname", msg))
	case !namePattern.MatchString(plain):
		msg := "Full name contains invalid characters"
		return "", pipeline.Validation(msg, pipeline.Field("fullname", "Full name can only contain letters, spaces, hyphens, and apostrophes"))
	}
	req.Set("fullname", name)
	return name, nil
}

// resolveExisting answers the request when the email already has a row.
// Store failures are logged and the request continues as a new subscriber;
// the unique index still guards against a second row.
func (v *SubscriptionValidator) resolveExisting(ctx context.Context, email, fullName string) *pipeline.Response {
	L := log.FromContext(ctx)
	rows, err := v.subs.Lookup(ctx, email)
	if err != nil {
		L.Warn(ctx, "duplicate check failed, continuing", "err", err)
		return nil
	}

	d := subscription.Decide(rows)
	switch d.Action {
	case subscription.ActionReject:
		v.outcome(OutcomeDuplicate)
		return pipeline.Conflict(MsgAlreadySubscribed, d.Existing.Email, d.Existing.SubscribedAt).Response()
	case subscription.ActionReactivate:
		sub, err := v.subs.Reactivate(ctx, *d.Existing, fullName)
		if err != nil {
			L.Warn(ctx, "reactivation failed, continuing", "err", err, "subscriber_id", d.Existing.ID)
			return nil
		}
		L.Info(ctx, "subscription reactivated", "subscriber_id", sub.ID)
		v.outcome(OutcomeReactivated)
		return pipeline.OK(http.StatusOK, sub, MsgReactivated)
	}
	return nil
}
