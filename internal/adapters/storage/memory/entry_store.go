package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

// EntryStore is a simple in-memory implementation of domain.EntryStore.
// It is NOT persistent and is only suitable for development / local mode.
type EntryStore struct {
	mu      sync.RWMutex
	entries map[string][]*domain.JournalEntry
}

// NewEntryStore creates a new in-memory EntryStore.
func NewEntryStore() *EntryStore {
	return &EntryStore{
		entries: make(map[string][]*domain.JournalEntry),
	}
}

// LoadEntries returns a copy of the identity's collection, oldest first.
func (s *EntryStore) LoadEntries(_ context.Context, id domain.Identity) ([]*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneEntries(s.entries[id.Key()]), nil
}

// SaveEntries replaces the identity's collection.
func (s *EntryStore) SaveEntries(_ context.Context, id domain.Identity, entries []*domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id.Key()] = cloneEntries(entries)
	return nil
}

func cloneEntries(in []*domain.JournalEntry) []*domain.JournalEntry {
	out := make([]*domain.JournalEntry, 0, len(in))
	for _, e := range in {
		out = append(out, e.Clone())
	}
	return out
}
