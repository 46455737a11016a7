package soundboard

import (
	"sync"
	"time"
)

// DefaultHistorySize is the number of plays kept per session.
const DefaultHistorySize = 100

// Entry is one successful play.
type Entry struct {
	SoundID string    `json:"sound_id"`
	At      time.Time `json:"at"`
}

// History keeps the most recent plays of every session. It is safe for
// concurrent use.
type History struct {
	size int

	mu       sync.RWMutex
	sessions map[string][]Entry // oldest first
}

// NewHistory keeps up to size entries per session. A size below 1 uses
// [DefaultHistorySize].
func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{size: size, sessions: make(map[string][]Entry)}
}

// Record appends a play, dropping the oldest entry when the session is full.
func (h *History) Record(session, soundID string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := append(h.sessions[session], Entry{SoundID: soundID, At: at})
	if over := len(entries) - h.size; over > 0 {
		entries = append(entries[:0:0], entries[over:]...)
	}
	h.sessions[session] = entries
}

// Recent returns the entry offset plays back. Offset 0 is the latest play.
func (h *History) Recent(session string, offset int) (Entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entries := h.sessions[session]
	if offset < 0 || offset >= len(entries) {
		return Entry{}, ErrNotFound
	}
	return entries[len(entries)-1-offset], nil
}

// Entries returns a copy of the session's history, most recent first.
func (h *History) Entries(session string) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entries := h.sessions[session]
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
