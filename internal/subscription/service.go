package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

// Service applies subscription rules on top of a Store.
type Service struct {
	store Store
	now   func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Lookup returns every row stored for email.
func (s *Service) Lookup(ctx context.Context, email string) ([]Subscriber, error) {
	rows, err := s.store.FindMany(ctx, Filter{Email: NormalizeEmail(email)})
	if err != nil {
		return nil, xerrors.Wrap(err, "lookup subscriber")
	}
	return rows, nil
}

// Create stores a new active subscriber. subscribedAt defaults to now.
// ErrDuplicate comes back when the email already has a row.
func (s *Service) Create(ctx context.Context, email, fullName string, subscribedAt time.Time) (Subscriber, error) {
	if subscribedAt.IsZero() {
		subscribedAt = s.now()
	}
	sub, err := s.store.Create(ctx, Subscriber{
		Email:        NormalizeEmail(email),
		FullName:     fullName,
		IsActive:     true,
		SubscribedAt: subscribedAt.UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Subscriber{}, err
		}
		return Subscriber{}, xerrors.Wrap(err, "create subscriber")
	}
	return sub, nil
}

// Reactivate turns an existing row back on with a fresh subscribedAt. An
// empty fullName keeps the stored one. Reactivating an active row is a no-op
// apart from the refreshed timestamp.
func (s *Service) Reactivate(ctx context.Context, existing Subscriber, fullName string) (Subscriber, error) {
	p := Patch{
		IsActive:            ptr(true),
		SubscribedAt:        ptr(s.now().UTC()),
		ClearUnsubscribedAt: true,
	}
	if fullName != "" {
		p.FullName = &fullName
	}
	sub, err := s.store.Update(ctx, existing.ID, p)
	if err != nil {
		return Subscriber{}, xerrors.Wrapf(err, "reactivate subscriber %d", existing.ID)
	}
	return sub, nil
}

// Unsubscribe deactivates the active row for email. ErrNotFound when there
// is none.
func (s *Service) Unsubscribe(ctx context.Context, email string) (Subscriber, error) {
	rows, err := s.store.FindMany(ctx, Filter{Email: NormalizeEmail(email), Active: Active, Limit: 1})
	if err != nil {
		return Subscriber{}, xerrors.Wrap(err, "lookup subscriber")
	}
	if len(rows) == 0 {
		return Subscriber{}, ErrNotFound
	}
	sub, err := s.store.Update(ctx, rows[0].ID, Patch{
		IsActive:       ptr(false),
		UnsubscribedAt: ptr(s.now().UTC()),
	})
	if err != nil {
		return Subscriber{}, xerrors.Wrapf(err, "unsubscribe subscriber %d", rows[0].ID)
	}
	return sub, nil
}

// List returns subscribers matching active (nil for all), oldest first.
func (s *Service) List(ctx context.Context, active *bool) ([]Subscriber, error) {
	rows, err := s.store.FindMany(ctx, Filter{Active: active})
	if err != nil {
		return nil, xerrors.Wrap(err, "list subscribers")
	}
	return rows, nil
}
