// Package adminhttp serves the bearer-protected newsletter authoring API:
// one-off and broadcast email, and AI text drafting.
package adminhttp

import (
	"context"
	"errors"
	"html/template"
	"math"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/mailer"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/subscription"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/textgen"
)

type Subscribers interface {
	List(ctx context.Context, active *bool) ([]subscription.Subscriber, error)
}

type Options struct {
	Subscribers Subscribers
	Mail        *mailer.Broadcaster
	TextGen     *textgen.Service
	// Auth wraps every route. nil closes the routes with 503.
	Auth func(http.Handler) http.Handler
}

type Routes struct {
	subs Subscribers
	mail *mailer.Broadcaster
	gen  *textgen.Service
	auth func(http.Handler) http.Handler
}

func New(opts Options) *Routes {
	auth := opts.Auth
	if auth == nil {
		auth = httpmw.RequireBearer("")
	}
	return &Routes{subs: opts.Subscribers, mail: opts.Mail, gen: opts.TextGen, auth: auth}
}

func handle(f pipeline.HandlerFunc) http.HandlerFunc {
	return pipeline.NewHTTPHandler(pipeline.Decoded(f)).ServeHTTP
}

func (rt *Routes) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(rt.auth)
		if rt.mail != nil {
			r.Post("/email-news/send-email", handle(rt.sendEmail))
			r.Post("/email-news/send-newsletter", handle(rt.sendNewsletter))
		}
		if rt.gen != nil {
			r.Post("/ai-text-generation/generate", handle(rt.generate))
			r.Get("/ai-text-generation/status", handle(rt.status))
		}
	})
}

func (rt *Routes) sendEmail(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	to, _ := req.String("to")
	subject, _ := req.String("subject")
	body, _ := req.String("htmlContent")
	to, subject = strings.TrimSpace(to), strings.TrimSpace(subject)
	if to == "" || subject == "" || strings.TrimSpace(body) == "" {
		return missing("Missing required fields: to, subject, htmlContent", map[string]string{"to": to, "subject": subject, "htmlContent": body}), nil
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return pipeline.Validation("Invalid recipient address", pipeline.Field("to", "Please provide a valid email address")).Response(), nil
	}
	if !rt.mail.Ready() {
		return pipeline.Unavailable("Email delivery is not configured").Response(), nil
	}

	d, err := rt.mail.SendOne(ctx, to, subject, body)
	if err != nil {
		var apiErr *mailer.APIError
		if errors.As(err, &apiErr) {
			log.FromContext(ctx).Warn(ctx, "email provider rejected message", "err", err)
			return pipeline.BadGateway("Failed to send email").Response(), nil
		}
		return nil, err
	}
	return pipeline.OK(http.StatusOK, d, "Email sent successfully"), nil
}

func (rt *Routes) sendNewsletter(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	subject, _ := req.String("subject")
	htmlContent, _ := req.String("htmlContent")
	markdown, _ := req.String("markdown")
	subject = strings.TrimSpace(subject)
	if subject == "" || (strings.TrimSpace(htmlContent) == "" && strings.TrimSpace(markdown) == "") {
		return missing("Missing required fields: subject, htmlContent", map[string]string{"subject": subject, "htmlContent": htmlContent + markdown}), nil
	}
	if !rt.mail.Ready() {
		return pipeline.Unavailable("Email delivery is not configured").Response(), nil
	}

	body := template.HTML(htmlContent)
	if body == "" {
		rendered, err := mailer.RenderMarkdown(markdown)
		if err != nil {
			return nil, err
		}
		body = rendered
	}

	subs, err := rt.subs.List(ctx, subscription.Active)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return pipeline.NotFound("No active subscribers found").Response(), nil
	}
	rcpts := make([]mailer.Recipient, len(subs))
	for i, s := range subs {
		rcpts[i] = mailer.Recipient{Email: s.Email, Name: s.FullName}
	}

	rep, err := rt.mail.Broadcast(ctx, mailer.Newsletter{Subject: subject, HTML: body}, rcpts)
	if err != nil {
		return nil, err
	}
	return pipeline.OK(http.StatusOK, rep, "Newsletter sent successfully"), nil
}

func (rt *Routes) generate(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	prompt, _ := req.String("prompt")
	greq := textgen.Request{Prompt: prompt}

	if _, present := req.Data["temperature"]; present {
		t, ok := req.Number("temperature")
		if !ok {
			return pipeline.Validation("Temperature must be a number", pipeline.Field("temperature", "Temperature must be a number")).Response(), nil
		}
		greq.Temperature = &t
	}
	if _, present := req.Data["maxTokens"]; present {
		f, ok := req.Number("maxTokens")
		if !ok || f != math.Trunc(f) {
			return pipeline.Validation("Max tokens must be an integer", pipeline.Field("maxTokens", "Max tokens must be an integer")).Response(), nil
		}
		n := int(math.Max(math.Min(f, math.MaxInt32), math.MinInt32))
		greq.MaxTokens = &n
	}

	res, err := rt.gen.Generate(ctx, greq)
	if err == nil {
		return pipeline.OK(http.StatusOK, res, ""), nil
	}

	var perr *textgen.ProviderError
	switch {
	case errors.Is(err, textgen.ErrInvalidParams):
		msg := textgen.Message(err)
		return pipeline.Validation(msg, pipeline.Field(paramField(msg), msg)).Response(), nil
	case errors.Is(err, textgen.ErrNotReady):
		return pipeline.Unavailable("AI text generation is not configured").Response(), nil
	case errors.As(err, &perr):
		log.FromContext(ctx).Warn(ctx, "text generation provider error", "err", err, "provider_status", perr.Status)
		if perr.Status == http.StatusTooManyRequests {
			return (&pipeline.Error{Status: http.StatusTooManyRequests, Name: pipeline.NameTooManyRequests, Message: perr.Message}).Response(), nil
		}
		return pipeline.BadGateway(perr.Message).Response(), nil
	}
	return nil, err
}

func (rt *Routes) status(_ context.Context, _ *pipeline.Request) (*pipeline.Response, error) {
	return pipeline.OK(http.StatusOK, rt.gen.Status(), ""), nil
}

// missing builds a validation error listing each empty field in order
func missing(msg string, fields map[string]string) *pipeline.Response {
	var errs []pipeline.FieldError
	for _, f := range []string{"to", "subject", "htmlContent"} {
		v, ok := fields[f]
		if ok && strings.TrimSpace(v) == "" {
			errs = append(errs, pipeline.Field(f, f+" is required"))
		}
	}
	return pipeline.Validation(msg, errs...).Response()
}

func paramField(msg string) string {
	switch {
	case strings.HasPrefix(msg, "Temperature"):
		return "temperature"
	case strings.HasPrefix(msg, "Max tokens"):
		return "maxTokens"
	}
	return "prompt"
}
