// Package journal keeps the bounded in-memory activity log shown on the
// dashboard. Entries are appended in arrival order and evicted oldest-first
// once the cap is reached.
package journal

import (
	"sync"
	"time"

	"github.com/ZE-BOSS/telegram-bot/internal/model"
)

// DefaultCapacity bounds retained entries when no explicit cap is given.
const DefaultCapacity = 500

// Sink receives every appended entry, typically for persistence.
type Sink interface {
	Record(model.LogEntry)
}

// Journal stores log entries for quick inspection. Safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	cap     int
	entries []model.LogEntry
	sink    Sink
}

// New creates an empty journal retaining at most capacity entries.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{cap: capacity, entries: make([]model.LogEntry, 0, capacity)}
}

// Attach routes a copy of every subsequent entry to sink. Pass nil to
// detach.
func (j *Journal) Attach(sink Sink) {
	j.mu.Lock()
	j.sink = sink
	j.mu.Unlock()
}

// Append records an entry, evicting the oldest one if the journal is full.
func (j *Journal) Append(entry model.LogEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	j.mu.Lock()
	if len(j.entries) == j.cap {
		copy(j.entries, j.entries[1:])
		j.entries = j.entries[:j.cap-1]
	}
	j.entries = append(j.entries, entry)
	sink := j.sink
	j.mu.Unlock()
	if sink != nil {
		sink.Record(entry)
	}
}

// Appendf is shorthand for recording a plain entry at the given level.
func (j *Journal) Appendf(level model.LogLevel, message, executionID string) {
	j.Append(model.LogEntry{Level: level, Message: message, ExecutionID: executionID})
}

// Snapshot returns a copy of the entries, oldest first.
func (j *Journal) Snapshot() []model.LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.LogEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Len reports the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
