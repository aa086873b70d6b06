// Package activity keeps a bounded, newest-first log of relay actions for the
// monitor page.
package activity

import (
	"sync"
	"time"
)

// DefaultSize is the number of entries kept when no size is configured.
const DefaultSize = 100

// Status values used by the relay.
const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"
	StatusFailed  = "failed"
)

// Entry is one logged action.
type Entry struct {
	Time     time.Time      `json:"time"`
	Endpoint string         `json:"endpoint"`
	Status   string         `json:"status"`
	Payload  map[string]any `json:"payload,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Log is a fixed-size ring of entries.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
}

// New creates a log holding at most size entries.
func New(size int) *Log {
	if size <= 0 {
		size = DefaultSize
	}
	return &Log{
		entries: make([]Entry, size),
		now:     time.Now,
	}
}

// Add records an action. errDetail may be empty.
func (l *Log) Add(endpoint, status string, payload map[string]any, errDetail string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = Entry{
		Time:     l.now().UTC(),
		Endpoint: endpoint,
		Status:   status,
		Payload:  payload,
		Error:    errDetail,
	}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Entries returns the logged actions, newest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.entries)
	}

	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
