package pipeline

import (
	"errors"
	"net/http"
	"time"
)

// Error names used in response bodies.
const (
	NameValidation       = "ValidationError"
	NameTooManyRequests  = "TooManyRequestsError"
	NameConflict         = "ConflictError"
	NameNotFound         = "NotFoundError"
	NameMethodNotAllowed = "MethodNotAllowedError"
	NameUnauthorized     = "UnauthorizedError"
	NamePayloadTooLarge  = "PayloadTooLargeError"
	NameInternal         = "InternalServerError"
	NameUnavailable      = "ServiceUnavailableError"
	NameBadGateway       = "BadGatewayError"
)

// FieldError points at one offending input field.
type FieldError struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Name    string   `json:"name"`
}

// Field builds a ValidationError entry for a top-level field.
func Field(field, message string) FieldError {
	return FieldError{Path: []string{field}, Message: message, Name: NameValidation}
}

// Details always carries the field error list; the other members are set by
// the specific error kinds.
type Details struct {
	Errors []FieldError `json:"errors"`

	Email        string     `json:"email,omitempty"`
	SubscribedAt *time.Time `json:"subscribedAt,omitempty"`

	Limit      int        `json:"limit,omitempty"`
	WindowMs   int64      `json:"windowMs,omitempty"`
	ResetTime  *time.Time `json:"resetTime,omitempty"`
	RetryAfter int        `json:"retryAfter,omitempty"`
}

// Error is a client-facing failure. It doubles as the "error" member of the
// response body.
type Error struct {
	Status  int     `json:"status"`
	Name    string  `json:"name"`
	Message string  `json:"message"`
	Details Details `json:"details"`
}

func (e *Error) Error() string { return e.Name + ": " + e.Message }

// ErrorBody is the uniform error response body.
type ErrorBody struct {
	Error *Error `json:"error"`
}

// Response renders e as a response with the uniform error body.
func (e *Error) Response() *Response {
	if e.Details.Errors == nil {
		e.Details.Errors = []FieldError{}
	}
	return NewResponse(e.Status, ErrorBody{Error: e})
}

func Validation(message string, fields ...FieldError) *Error {
	return &Error{Status: http.StatusBadRequest, Name: NameValidation, Message: message, Details: Details{Errors: fields}}
}

func Conflict(message, email string, subscribedAt time.Time) *Error {
	at := subscribedAt.UTC()
	return &Error{
		Status:  http.StatusConflict,
		Name:    NameConflict,
		Message: message,
		Details: Details{
			Errors:       []FieldError{{Path: []string{"email"}, Message: message, Name: NameConflict}},
			Email:        email,
			SubscribedAt: &at,
		},
	}
}

func TooManyRequests(message string, limit int, window time.Duration, reset time.Time, retryAfter int) *Error {
	at := reset.UTC()
	return &Error{
		Status:  http.StatusTooManyRequests,
		Name:    NameTooManyRequests,
		Message: message,
		Details: Details{
			Limit:      limit,
			WindowMs:   window.Milliseconds(),
			ResetTime:  &at,
			RetryAfter: retryAfter,
		},
	}
}

func NotFound(message string, fields ...FieldError) *Error {
	return &Error{Status: http.StatusNotFound, Name: NameNotFound, Message: message, Details: Details{Errors: fields}}
}

func MethodNotAllowed(message string) *Error {
	return &Error{Status: http.StatusMethodNotAllowed, Name: NameMethodNotAllowed, Message: message}
}

func Unavailable(message string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Name: NameUnavailable, Message: message}
}

// BadGateway reports a failure of an upstream provider.
func BadGateway(message string) *Error {
	return &Error{Status: http.StatusBadGateway, Name: NameBadGateway, Message: message}
}

func Internal() *Error {
	return &Error{Status: http.StatusInternalServerError, Name: NameInternal, Message: "Internal server error"}
}

// ErrorOf returns the *Error carried by resp, if any.
func ErrorOf(resp *Response) (*Error, bool) {
	if resp == nil {
		return nil, false
	}
	switch b := resp.Body.(type) {
	case ErrorBody:
		return b.Error, b.Error != nil
	case *ErrorBody:
		return b.Error, b != nil && b.Error != nil
	}
	return nil, false
}

// AsError is errors.As for *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
