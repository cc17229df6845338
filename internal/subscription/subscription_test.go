package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// memStore is a Store over a slice, enforcing the unique email rule
type memStore struct {
	mu     sync.Mutex
	rows   []Subscriber
	nextID int64
	err    error
}

func (m *memStore) FindMany(_ context.Context, f Filter) ([]Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Subscriber
	for _, r := range m.rows {
		if f.Email != "" && r.Email != f.Email {
			continue
		}
		if f.Active != nil && r.IsActive != *f.Active {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, s Subscriber) (Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Email == s.Email {
			return Subscriber{}, ErrDuplicate
		}
	}
	m.nextID++
	s.ID = m.nextID
	m.rows = append(m.rows, s)
	return s, nil
}

func (m *memStore) Update(_ context.Context, id int64, p Patch) (Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		r := &m.rows[i]
		if r.ID != id {
			continue
		}
		if p.FullName != nil {
			r.FullName = *p.FullName
		}
		if p.IsActive != nil {
			r.IsActive = *p.IsActive
		}
		if p.SubscribedAt != nil {
			r.SubscribedAt = *p.SubscribedAt
		}
		if p.UnsubscribedAt != nil {
			r.UnsubscribedAt = p.UnsubscribedAt
		}
		if p.ClearUnsubscribedAt {
			r.UnsubscribedAt = nil
		}
		return *r, nil
	}
	return Subscriber{}, ErrNotFound
}

var t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestService(store Store) (*Service, *time.Time) {
	now := t0
	return NewService(store, WithClock(func() time.Time { return now })), &now
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  X@Example.COM \t"); got != "x@example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestDecide(t *testing.T) {
	active := Subscriber{ID: 1, Email: "a@b.co", IsActive: true, SubscribedAt: t0}
	inactive := Subscriber{ID: 2, Email: "a@b.co", IsActive: false}
	inactive2 := Subscriber{ID: 3, Email: "a@b.co", IsActive: false}

	tests := []struct {
		name     string
		existing []Subscriber
		want     Action
		wantID   int64
	}{
		{"none", nil, ActionCreate, 0},
		{"active", []Subscriber{active}, ActionReject, 1},
		{"inactive", []Subscriber{inactive}, ActionReactivate, 2},
		{"active wins over inactive", []Subscriber{inactive, active}, ActionReject, 1},
		{"first inactive reactivated", []Subscriber{inactive2, inactive}, ActionReactivate, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.existing)
			if d.Action != tt.want {
				t.Fatalf("action = %s, want %s", d.Action, tt.want)
			}
			if tt.wantID == 0 {
				if d.Existing != nil {
					t.Fatalf("create should not carry a row: %+v", d.Existing)
				}
				return
			}
			if d.Existing == nil || d.Existing.ID != tt.wantID {
				t.Fatalf("existing = %+v, want id %d", d.Existing, tt.wantID)
			}
		})
	}
}

func TestService_CreateNormalizesAndStamps(t *testing.T) {
	svc, _ := newTestService(&memStore{})
	got, err := svc.Create(context.Background(), " Jane@Example.com ", "Jane Doe", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	want := Subscriber{ID: 1, Email: "jane@example.com", FullName: "Jane Doe", IsActive: true, SubscribedAt: t0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("subscriber mismatch (-want +got):\n%s", diff)
	}
}

func TestService_CreateDuplicate(t *testing.T) {
	svc, _ := newTestService(&memStore{})
	ctx := context.Background()
	if _, err := svc.Create(ctx, "a@b.co", "A B", time.Time{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "A@B.co", "A B", time.Time{}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestService_UnsubscribeThenReactivate(t *testing.T) {
	store := &memStore{}
	svc, now := newTestService(store)
	ctx := context.Background()

	created, _ := svc.Create(ctx, "a@b.co", "Old Name", time.Time{})

	*now = t0.Add(time.Hour)
	unsub, err := svc.Unsubscribe(ctx, "A@B.CO")
	if err != nil {
		t.Fatal(err)
	}
	if unsub.IsActive || unsub.UnsubscribedAt == nil || !unsub.UnsubscribedAt.Equal(*now) {
		t.Fatalf("unsubscribe result: %+v", unsub)
	}

	if _, err := svc.Unsubscribe(ctx, "a@b.co"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second unsubscribe err = %v, want ErrNotFound", err)
	}

	rows, _ := svc.Lookup(ctx, "a@b.co")
	d := Decide(rows)
	if d.Action != ActionReactivate {
		t.Fatalf("action = %s, want reactivate", d.Action)
	}

	*now = t0.Add(2 * time.Hour)
	re, err := svc.Reactivate(ctx, *d.Existing, "New Name")
	if err != nil {
		t.Fatal(err)
	}
	want := Subscriber{ID: created.ID, Email: "a@b.co", FullName: "New Name", IsActive: true, SubscribedAt: *now}
	if diff := cmp.Diff(want, re); diff != "" {
		t.Fatalf("reactivated mismatch (-want +got):\n%s", diff)
	}
}

func TestService_ReactivateTwiceIsIdempotent(t *testing.T) {
	store := &memStore{}
	svc, _ := newTestService(store)
	ctx := context.Background()
	sub, _ := svc.Create(ctx, "a@b.co", "A B", time.Time{})
	svc.Unsubscribe(ctx, "a@b.co")

	for i := 0; i < 2; i++ {
		got, err := svc.Reactivate(ctx, sub, "")
		if err != nil {
			t.Fatal(err)
		}
		if !got.IsActive || got.FullName != "A B" {
			t.Fatalf("round %d: %+v", i, got)
		}
	}
	all, _ := svc.List(ctx, nil)
	if len(all) != 1 {
		t.Fatalf("rows = %d, want 1", len(all))
	}
}

func TestService_ListFilters(t *testing.T) {
	svc, _ := newTestService(&memStore{})
	ctx := context.Background()
	svc.Create(ctx, "a@b.co", "A", time.Time{})
	svc.Create(ctx, "c@d.co", "C", time.Time{})
	svc.Unsubscribe(ctx, "c@d.co")

	active, _ := svc.List(ctx, Active)
	inactive, _ := svc.List(ctx, Inactive)
	all, _ := svc.List(ctx, nil)
	if len(active) != 1 || len(inactive) != 1 || len(all) != 2 {
		t.Fatalf("active=%d inactive=%d all=%d", len(active), len(inactive), len(all))
	}
}

func TestService_StoreErrorsWrapped(t *testing.T) {
	boom := errors.New("disk I/O error")
	svc, _ := newTestService(&memStore{err: boom})
	if _, err := svc.Lookup(context.Background(), "a@b.co"); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.Unsubscribe(context.Background(), "a@b.co"); !errors.Is(err, boom) || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
