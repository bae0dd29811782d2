package chat

import "sync"

// Log is the append-only transcript. Appends come from the coordinator
// loop only; snapshots may be taken from any goroutine.
type Log struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewLog creates an empty transcript
func NewLog() *Log {
	return &Log{entries: make([]LogEntry, 0)}
}

// Append adds e and returns a snapshot that includes it
func (l *Log) Append(e LogEntry) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	return l.snapshotUnsafe()
}

// Snapshot returns a copy of every entry in display order
func (l *Log) Snapshot() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotUnsafe()
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// snapshotUnsafe copies without locking (caller must hold lock)
func (l *Log) snapshotUnsafe() []LogEntry {
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
