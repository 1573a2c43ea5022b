package memoir

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryKind distinguishes how an archive entry came to be.
type EntryKind string

const (
	// KindOpening is the scene-setting line generated before the session.
	KindOpening EntryKind = "opening"
	// KindMemory is a style-transformed spoken memory.
	KindMemory EntryKind = "memory"
	// KindNote is a narrative-weaving note across memories.
	KindNote EntryKind = "note"
)

// WeaveMarker prefixes narrative-weaving notes in the archive.
const WeaveMarker = "ARCHIVIST'S NOTE: "

// Entry is one finalized prose passage. Entries are never edited or removed
// once appended.
type Entry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Archive is the append-only ordered collection of finalized prose.
type Archive struct {
	mu      sync.Mutex
	entries []Entry
}

// NewArchive creates an empty archive.
func NewArchive() *Archive {
	return &Archive{}
}

// Append adds a finalized passage and returns the stored entry.
func (a *Archive) Append(kind EntryKind, text string) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now(),
	}
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return e
}

// Entries returns a snapshot of the archive in append order.
func (a *Archive) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of archived passages.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// JoinedText concatenates all passages for use in a weaving prompt.
func (a *Archive) JoinedText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	texts := make([]string, len(a.entries))
	for i, e := range a.entries {
		texts[i] = e.Text
	}
	return strings.Join(texts, "\n\n")
}
