package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

const DefaultBaseURL = "https://api.brevo.com"

// ErrNotConfigured is returned by Send when no API key was supplied.
var ErrNotConfigured = errors.New("mailer: no api key configured")

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Message struct {
	To      Address
	Subject string
	HTML    string
}

// Delivery is the provider's receipt for an accepted message.
type Delivery struct {
	MessageID string `json:"messageId"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) (Delivery, error)
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("brevo: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("brevo: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Client sends through the Brevo transactional email API.
type Client struct {
	apiKey  string
	sender  Address
	baseURL string
	hc      *http.Client
	api     *brevo.APIClient
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func NewClient(apiKey string, sender Address, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		sender:  sender,
		baseURL: DefaultBaseURL,
		hc:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}

	cfg := brevo.NewConfiguration()
	cfg.BasePath = c.baseURL + "/v3"
	cfg.HTTPClient = c.hc
	cfg.AddDefaultHeader("api-key", apiKey)
	c.api = brevo.NewAPIClient(cfg)
	return c
}

// Configured reports whether Send can reach the provider.
func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) Send(ctx context.Context, msg Message) (Delivery, error) {
	if !c.Configured() {
		return Delivery{}, ErrNotConfigured
	}
	out, resp, err := c.api.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Email: c.sender.Email, Name: c.sender.Name},
		To:          []brevo.SendSmtpEmailTo{{Email: msg.To.Email, Name: msg.To.Name}},
		Subject:     msg.Subject,
		HtmlContent: msg.HTML,
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return Delivery{}, xerrors.WithStack(apiError(resp.StatusCode, err))
		}
		return Delivery{}, xerrors.Wrap(err, "send email")
	}
	return Delivery{MessageID: out.MessageId}, nil
}

// apiError lifts the provider's {"code","message"} body out of the SDK error.
func apiError(status int, err error) *APIError {
	apiErr := &APIError{Status: status, Message: err.Error()}
	var se brevo.GenericSwaggerError
	if !errors.As(err, &se) {
		return apiErr
	}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(se.Body(), &body) == nil && body.Message != "" {
		apiErr.Code, apiErr.Message = body.Code, body.Message
	} else if raw := strings.TrimSpace(string(se.Body())); raw != "" {
		apiErr.Message = raw
	}
	return apiErr
}
