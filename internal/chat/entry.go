package chat

import "time"

// EntryKind tags a LogEntry
type EntryKind int

const (
	// Own is a message the local user sent
	Own EntryKind = iota
	// Peer is a message received from another participant
	Peer
	// System is a status notice
	System
)

func (k EntryKind) String() string {
	switch k {
	case Own:
		return "own"
	case Peer:
		return "peer"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// LogEntry is one immutable line of the transcript.
// Sender is only set for Peer entries.
type LogEntry struct {
	Kind   EntryKind
	Sender string
	Text   string
	At     time.Time
}

// OwnEntry builds an entry for a sent message
func OwnEntry(text string) LogEntry {
	return LogEntry{Kind: Own, Text: text, At: time.Now()}
}

// PeerEntry builds an entry for a received message
func PeerEntry(sender, text string) LogEntry {
	return LogEntry{Kind: Peer, Sender: sender, Text: text, At: time.Now()}
}

// SystemEntry builds a status notice
func SystemEntry(text string) LogEntry {
	return LogEntry{Kind: System, Text: text, At: time.Now()}
}
