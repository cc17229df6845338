// Package sqlite stores subscribers in SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/subscription"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

var _ subscription.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dsn and applies the schema.
// dsn is a file path or a file: URI such as "file:x?mode=memory&cache=shared".
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "open database")
	}
	// one writer at a time; SQLite serializes writes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, xerrors.Wrap(err, "set pragmas")
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, xerrors.Wrap(err, "initialize schema")
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL COLLATE NOCASE UNIQUE,
			fullname TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			subscribed_at INTEGER NOT NULL,
			unsubscribed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscribers_active ON subscribers(is_active)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const columns = `id, email, fullname, is_active, subscribed_at, unsubscribed_at`

type scanner interface{ Scan(dest ...any) error }

func scanSubscriber(row scanner) (subscription.Subscriber, error) {
	var (
		sub     subscription.Subscriber
		active  int
		subAt   int64
		unsubAt sql.NullInt64
	)
	if err := row.Scan(&sub.ID, &sub.Email, &sub.FullName, &active, &subAt, &unsubAt); err != nil {
		return subscription.Subscriber{}, err
	}
	sub.IsActive = active == 1
	sub.SubscribedAt = time.UnixMilli(subAt).UTC()
	if unsubAt.Valid {
		t := time.UnixMilli(unsubAt.Int64).UTC()
		sub.UnsubscribedAt = &t
	}
	return sub, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) FindMany(ctx context.Context, f subscription.Filter) ([]subscription.Subscriber, error) {
	var (
		where []string
		args  []any
	)
	if f.Email != "" {
		where = append(where, "email = ?")
		args = append(args, f.Email)
	}
	if f.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, boolInt(*f.Active))
	}
	q := "SELECT " + columns + " FROM subscribers"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, xerrors.Wrap(err, "query subscribers")
	}
	defer rows.Close()

	var out []subscription.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, xerrors.Wrap(err, "scan subscriber")
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(err, "iterate subscribers")
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, sub subscription.Subscriber) (subscription.Subscriber, error) {
	var unsub any
	if sub.UnsubscribedAt != nil {
		unsub = sub.UnsubscribedAt.UnixMilli()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO subscribers (email, fullname, is_active, subscribed_at, unsubscribed_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING `+columns,
		sub.Email, sub.FullName, boolInt(sub.IsActive), sub.SubscribedAt.UnixMilli(), unsub,
	)
	created, err := scanSubscriber(row)
	if err != nil {
		if isUniqueViolation(err) {
			return subscription.Subscriber{}, subscription.ErrDuplicate
		}
		return subscription.Subscriber{}, xerrors.Wrap(err, "insert subscriber")
	}
	return created, nil
}

func (s *Store) Update(ctx context.Context, id int64, p subscription.Patch) (subscription.Subscriber, error) {
	var (
		set  []string
		args []any
	)
	if p.FullName != nil {
		set = append(set, "fullname = ?")
		args = append(args, *p.FullName)
	}
	if p.IsActive != nil {
		set = append(set, "is_active = ?")
		args = append(args, boolInt(*p.IsActive))
	}
	if p.SubscribedAt != nil {
		set = append(set, "subscribed_at = ?")
		args = append(args, p.SubscribedAt.UnixMilli())
	}
	switch {
	case p.ClearUnsubscribedAt:
		set = append(set, "unsubscribed_at = NULL")
	case p.UnsubscribedAt != nil:
		set = append(set, "unsubscribed_at = ?")
		args = append(args, p.UnsubscribedAt.UnixMilli())
	}

	if len(set) == 0 {
		row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM subscribers WHERE id = ?", id)
		return s.one(row, id)
	}
	args = append(args, id)
	row := s.db.QueryRowContext(ctx,
		"UPDATE subscribers SET "+strings.Join(set, ", ")+" WHERE id = ? RETURNING "+columns, args...)
	return s.one(row, id)
}

func (s *Store) one(row *sql.Row, id int64) (subscription.Subscriber, error) {
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Subscriber{}, subscription.ErrNotFound
	}
	if err != nil {
		return subscription.Subscriber{}, xerrors.Wrapf(err, "update subscriber %d", id)
	}
	return sub, nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
