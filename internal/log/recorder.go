package log

import (
	"context"
	"sync"
)

// Entry is one call captured by a Recorder.
type Entry struct {
	Level string
	Msg   string
	Err   error
	KV    map[string]any
}

// Recorder is a Logger that keeps every entry in memory. It is meant for
// tests that need to assert on what was logged.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []any
}

func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(kv ...any) Logger {
	f := make([]any, 0, len(r.fields)+len(kv))
	f = append(f, r.fields...)
	f = append(f, kv...)
	return &Recorder{mu: r.mu, entries: r.entries, fields: f}
}

func (r *Recorder) Debug(_ context.Context, msg string, kv ...any) { r.add("debug", msg, nil, kv) }
func (r *Recorder) Info(_ context.Context, msg string, kv ...any)  { r.add("info", msg, nil, kv) }
func (r *Recorder) Warn(_ context.Context, msg string, kv ...any)  { r.add("warn", msg, nil, kv) }
func (r *Recorder) Error(_ context.Context, err error, msg string, kv ...any) {
	r.add("error", msg, err, kv)
}
func (r *Recorder) Sync() error { return nil }

func (r *Recorder) add(level, msg string, err error, kv []any) {
	m := make(map[string]any, (len(r.fields)+len(kv))/2)
	for _, src := range [][]any{r.fields, kv} {
		for i := 0; i+1 < len(src); i += 2 {
			if k, ok := src[i].(string); ok {
				m[k] = src[i+1]
			}
		}
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Err: err, KV: m})
	r.mu.Unlock()
}

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), (*r.entries)...)
}

// Find returns the first entry with the given message.
func (r *Recorder) Find(msg string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Msg == msg {
			return e, true
		}
	}
	return Entry{}, false
}
