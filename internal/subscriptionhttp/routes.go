// Package subscriptionhttp exposes the newsletter subscription endpoints.
package subscriptionhttp

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/stages"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/subscription"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

const (
	MsgSubscribed   = "Successfully subscribed to newsletter"
	MsgUnsubscribed = "Successfully unsubscribed from newsletter"
)

type Options struct {
	Service *subscription.Service
	// Subscribe runs in front of the create handler.
	Subscribe *pipeline.Pipeline
	// Unsubscribe runs in front of the unsubscribe handler.
	Unsubscribe *pipeline.Pipeline
	// Admin guards the subscriber listing. nil leaves the listing unrouted.
	Admin func(http.Handler) http.Handler
	// RequireFullName makes fullname mandatory at create time.
	RequireFullName bool
	Now             func() time.Time
}

type Routes struct {
	svc         *subscription.Service
	subscribe   http.Handler
	unsubscribe http.Handler
	list        http.Handler
	admin       func(http.Handler) http.Handler
	requireName bool
	now         func() time.Time
}

func New(opts Options) *Routes {
	rt := &Routes{
		svc:         opts.Service,
		admin:       opts.Admin,
		requireName: opts.RequireFullName,
		now:         opts.Now,
	}
	if rt.now == nil {
		rt.now = time.Now
	}
	sub, unsub := opts.Subscribe, opts.Unsubscribe
	if sub == nil {
		sub = pipeline.New()
	}
	if unsub == nil {
		unsub = pipeline.New()
	}
	rt.subscribe = pipeline.NewHTTPHandler(sub.Then(pipeline.Decoded(pipeline.HandlerFunc(rt.create))))
	rt.unsubscribe = pipeline.NewHTTPHandler(unsub.Then(pipeline.Decoded(pipeline.HandlerFunc(rt.remove))))
	rt.list = pipeline.NewHTTPHandler(pipeline.Decoded(pipeline.HandlerFunc(rt.find)))
	return rt
}

func (rt *Routes) RegisterRoutes(r chi.Router) {
	r.Post("/newsletter-subscription", rt.subscribe.ServeHTTP)
	r.Post("/newsletter-subscription/unsubscribe", rt.unsubscribe.ServeHTTP)
	if rt.admin != nil {
		r.With(rt.admin).Get("/newsletter-subscription", rt.list.ServeHTTP)
	}
}

// create stores a subscriber that made it through the pipeline
func (rt *Routes) create(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	email, _ := req.String("email")
	fullName, _ := req.String("fullname")
	if email == "" || (rt.requireName && fullName == "") {
		msg := "Email and full name are required"
		var fields []pipeline.FieldError
		if email == "" {
			fields = append(fields, pipeline.Field("email", "Email field is required"))
		}
		if rt.requireName && fullName == "" {
			fields = append(fields, pipeline.Field("fullname", "Full name is required"))
		}
		return pipeline.Validation(msg, fields...).Response(), nil
	}

	at, _ := req.Data["subscribedAt"].(time.Time)
	sub, err := rt.svc.Create(ctx, email, fullName, at)
	if errors.Is(err, subscription.ErrDuplicate) {
		return rt.conflict(ctx, email, fullName)
	}
	if err != nil {
		return nil, err
	}
	log.FromContext(ctx).Info(ctx, "subscriber created", "subscriber_id", sub.ID)
	return pipeline.OK(http.StatusCreated, sub, MsgSubscribed), nil
}

// conflict answers a create that lost a race with another subscribe of the
// same address. A 409 only goes out when the row in the way is active; an
// inactive one is reactivated as the pipeline would have done.
func (rt *Routes) conflict(ctx context.Context, email, fullName string) (*pipeline.Response, error) {
	rows, err := rt.svc.Lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	d := subscription.Decide(rows)
	switch d.Action {
	case subscription.ActionReject:
		return pipeline.Conflict(stages.MsgAlreadySubscribed, subscription.NormalizeEmail(email), d.Existing.SubscribedAt).Response(), nil
	case subscription.ActionReactivate:
		sub, err := rt.svc.Reactivate(ctx, *d.Existing, fullName)
		if err != nil {
			return nil, err
		}
		log.FromContext(ctx).Info(ctx, "subscription reactivated", "subscriber_id", sub.ID)
		return pipeline.OK(http.StatusOK, sub, stages.MsgReactivated), nil
	}
	return nil, xerrors.Newf("duplicate reported for %s but no row found", subscription.NormalizeEmail(email))
}

type unsubscribed struct {
	Email          string    `json:"email"`
	Unsubscribed   bool      `json:"unsubscribed"`
	UnsubscribedAt time.Time `json:"unsubscribedAt"`
}

func (rt *Routes) remove(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	email, _ := req.String("email")
	email = subscription.NormalizeEmail(email)
	if email == "" {
		return pipeline.Validation("Email is required for unsubscription", pipeline.Field("email", "Email field is required")).Response(), nil
	}

	sub, err := rt.svc.Unsubscribe(ctx, email)
	if errors.Is(err, subscription.ErrNotFound) {
		return pipeline.NotFound("No active subscription found for this email address", pipeline.Field("email", "No active subscription found")).Response(), nil
	}
	if err != nil {
		return nil, err
	}
	log.FromContext(ctx).Info(ctx, "subscriber unsubscribed", "subscriber_id", sub.ID)

	at := rt.now().UTC()
	if sub.UnsubscribedAt != nil {
		at = *sub.UnsubscribedAt
	}
	return pipeline.OK(http.StatusOK, unsubscribed{Email: sub.Email, Unsubscribed: true, UnsubscribedAt: at}, MsgUnsubscribed), nil
}

// find lists subscribers; ?active=false for inactive rows, ?active=all for everything
func (rt *Routes) find(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	q, err := url.ParseQuery(req.Query)
	if err != nil {
		return pipeline.Validation("Invalid query string", pipeline.Field("query", err.Error())).Response(), nil
	}

	var active *bool
	switch q.Get("active") {
	case "", "true":
		active = subscription.Active
	case "false":
		active = subscription.Inactive
	case "all":
	default:
		return pipeline.Validation("Invalid active filter", pipeline.Field("active", "Must be true, false or all")).Response(), nil
	}

	rows, err := rt.svc.List(ctx, active)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []subscription.Subscriber{}
	}
	return pipeline.NewResponse(http.StatusOK, pipeline.Envelope{
		Data: rows,
		Meta: map[string]any{"total": len(rows)},
	}), nil
}
