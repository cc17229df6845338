package mailer

import (
	"context"
	"html/template"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

// Newsletter is one issue. HTML is trusted admin content.
type Newsletter struct {
	Subject string
	HTML    template.HTML
}

type Recipient struct {
	Email string
	Name  string
}

type Result struct {
	Email     string `json:"email"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Report struct {
	TotalSubscribers int      `json:"totalSubscribers"`
	SuccessCount     int      `json:"successCount"`
	FailureCount     int      `json:"failureCount"`
	Results          []Result `json:"results"`
}

// Broadcaster sends a newsletter to each recipient individually, paced so a
// large list does not trip the provider's rate limits.
type Broadcaster struct {
	sender     Sender
	limiter    *rate.Limiter
	publicURL  string
	from       string
	now        func() time.Time
	onDelivery func(ok bool)
}

type BroadcastOption func(*Broadcaster)

// WithPublicURL sets the base for unsubscribe links.
func WithPublicURL(u string) BroadcastOption {
	return func(b *Broadcaster) { b.publicURL = u }
}

func WithFromName(name string) BroadcastOption {
	return func(b *Broadcaster) { b.from = name }
}

// WithSendRate caps sends per second. Zero or less disables pacing.
func WithSendRate(perSecond float64) BroadcastOption {
	return func(b *Broadcaster) {
		if perSecond <= 0 {
			b.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithOnDelivery(fn func(ok bool)) BroadcastOption {
	return func(b *Broadcaster) { b.onDelivery = fn }
}

func NewBroadcaster(sender Sender, opts ...BroadcastOption) *Broadcaster {
	b := &Broadcaster{
		sender:  sender,
		limiter: rate.NewLimiter(5, 1),
		now:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SendOne delivers a single ad hoc email without the newsletter layout.
func (b *Broadcaster) SendOne(ctx context.Context, to, subject, html string) (Delivery, error) {
	d, err := b.sender.Send(ctx, Message{To: Address{Email: to}, Subject: subject, HTML: html})
	b.delivered(err == nil)
	return d, err
}

// Broadcast sends n to every recipient. Per-recipient failures land in the
// report; the returned error is only set when ctx ends early, in which case
// the unsent recipients are reported as failed.
func (b *Broadcaster) Broadcast(ctx context.Context, n Newsletter, recipients []Recipient) (Report, error) {
	L := log.FromContext(ctx)
	rep := Report{TotalSubscribers: len(recipients), Results: make([]Result, 0, len(recipients))}

	for i, rcpt := range recipients {
		if err := b.limiter.Wait(ctx); err != nil {
			for _, rest := range recipients[i:] {
				rep.Results = append(rep.Results, Result{Email: rest.Email, Error: "send aborted"})
				rep.FailureCount++
			}
			return rep, xerrors.Wrapf(err, "newsletter send stopped after %d of %d", i, len(recipients))
		}

		res := Result{Email: rcpt.Email}
		html, err := renderPage(n.Subject, n.HTML, UnsubscribeURL(b.publicURL, rcpt.Email), b.from, b.now())
		if err == nil {
			var d Delivery
			d, err = b.sender.Send(ctx, Message{To: Address{Email: rcpt.Email, Name: rcpt.Name}, Subject: n.Subject, HTML: html})
			res.MessageID = d.MessageID
		}
		if err != nil {
			L.Warn(ctx, "newsletter delivery failed", "err", err, "recipient", rcpt.Email)
			res.Error = err.Error()
			rep.FailureCount++
		} else {
			res.Success = true
			rep.SuccessCount++
		}
		b.delivered(err == nil)
		rep.Results = append(rep.Results, res)
	}

	L.Info(ctx, "newsletter sent", "total", rep.TotalSubscribers, "succeeded", rep.SuccessCount, "failed", rep.FailureCount)
	return rep, nil
}

func (b *Broadcaster) delivered(ok bool) {
	if b.onDelivery != nil {
		b.onDelivery(ok)
	}
}

// Ready reports whether the underlying sender can deliver. Senders that do
// not say are assumed ready.
func (b *Broadcaster) Ready() bool {
	if c, ok := b.sender.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}
