// Package camlog records timestamped transitions of the camshaft
// reference signal over the decoder's logging window. The decoder
// only ever resets the log; the host reads a snapshot and decides the
// half-cycle adjustment itself.
package camlog

import "sync"

// Entry is one recorded reference-signal transition.
type Entry struct {
	Time   uint64 `json:"time"`
	Rising bool   `json:"rising"`
}

// Log is a fixed-capacity reference-signal transition log. Recording
// past capacity drops the entry and marks the log overflowed until
// the next reset.
type Log struct {
	mu         sync.Mutex
	capacity   int
	windowFrom uint64
	entries    []Entry
	overflowed bool
	resets     uint64
}

// DefaultCapacity bounds one logging window. A four-stroke cam wheel
// produces well under this many transitions per window.
const DefaultCapacity = 64

// New creates a log holding up to capacity entries per window. A
// non-positive capacity selects DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Reset discards the recorded window and starts a new one at now.
// This is the decoder-facing notification entry point.
func (l *Log) Reset(now uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windowFrom = now
	l.entries = l.entries[:0]
	l.overflowed = false
	l.resets++
}

// Record appends a reference-signal transition. Transitions older
// than the window start are discarded; they belong to a window the
// decoder has already abandoned.
func (l *Log) Record(now uint64, rising bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now < l.windowFrom {
		return
	}
	if len(l.entries) >= l.capacity {
		l.overflowed = true
		return
	}
	l.entries = append(l.entries, Entry{Time: now, Rising: rising})
}

// Snapshot returns a copy of the recorded window and its start time.
func (l *Log) Snapshot() ([]Entry, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out, l.windowFrom
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Overflowed reports whether any entry was dropped since the last
// reset.
func (l *Log) Overflowed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overflowed
}

// Resets returns the number of Reset calls over the log's lifetime.
func (l *Log) Resets() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resets
}
