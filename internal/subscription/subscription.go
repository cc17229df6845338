// Package subscription holds the subscriber model and the rules for
// creating, reactivating and cancelling subscriptions.
package subscription

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound means no subscriber matched.
	ErrNotFound = errors.New("subscriber not found")
	// ErrDuplicate is returned by Store.Create when the email already exists.
	ErrDuplicate = errors.New("subscriber email already exists")
)

// Subscriber is one row per normalized email. Rows are deactivated, never
// deleted.
type Subscriber struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	FullName       string     `json:"fullname"`
	IsActive       bool       `json:"isActive"`
	SubscribedAt   time.Time  `json:"subscribedAt"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty"`
}

// Filter narrows FindMany. Zero values match everything.
type Filter struct {
	Email  string
	Active *bool
	Limit  int
}

// Patch lists the fields Update changes; nil fields are left alone.
type Patch struct {
	FullName       *string
	IsActive       *bool
	SubscribedAt   *time.Time
	UnsubscribedAt *time.Time
	// ClearUnsubscribedAt sets unsubscribedAt back to null.
	ClearUnsubscribedAt bool
}

type Store interface {
	FindMany(ctx context.Context, f Filter) ([]Subscriber, error)
	Create(ctx context.Context, s Subscriber) (Subscriber, error)
	Update(ctx context.Context, id int64, p Patch) (Subscriber, error)
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ptr[T any](v T) *T { return &v }

// Active and Inactive are ready-made Filter.Active values.
var (
	Active   = ptr(true)
	Inactive = ptr(false)
)
