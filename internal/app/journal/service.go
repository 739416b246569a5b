package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

const defaultListLimit = 20

// Service holds the logic of reading and writing journal entries.
// Every write loads the identity's collection, changes it and saves it back whole.
type Service struct {
	store domain.EntryStore
	mu    sync.Mutex
}

// NewService creates a journal service from an EntryStore
func NewService(store domain.EntryStore) *Service {
	return &Service{
		store: store,
	}
}

// List returns the newest `limit` entries of an identity, newest first.
// If limit <= 0, a reasonable default value is used.
func (s *Service) List(ctx context.Context, id domain.Identity, limit int) ([]*domain.JournalEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	entries, err := s.store.LoadEntries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Service) Get(ctx context.Context, id domain.Identity, entryID domain.EntryID) (*domain.JournalEntry, error) {
	entries, err := s.store.LoadEntries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	if i := indexOf(entries, entryID); i >= 0 {
		return entries[i], nil
	}
	return nil, domain.ErrEntryNotFound
}

// Append adds a new entry to the identity's collection.
func (s *Service) Append(ctx context.Context, id domain.Identity, entry *domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.LoadEntries(ctx, id)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	entries = append(entries, entry)

	if err := s.store.SaveEntries(ctx, id, entries); err != nil {
		return fmt.Errorf("save entries: %w", err)
	}

	observability.LoggerFromContext(ctx).Info("journal entry stored",
		"entry_id", entry.ID,
		"entry_count", len(entries),
	)
	return nil
}

// Replace swaps an existing entry for its updated version. The conversation may only grow.
func (s *Service) Replace(ctx context.Context, id domain.Identity, entry *domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.LoadEntries(ctx, id)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	i := indexOf(entries, entry.ID)
	if i < 0 {
		return domain.ErrEntryNotFound
	}
	if len(entry.Conversation) < len(entries[i].Conversation) {
		return domain.ErrConversationShrunk
	}
	entries[i] = entry

	if err := s.store.SaveEntries(ctx, id, entries); err != nil {
		return fmt.Errorf("save entries: %w", err)
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id domain.Identity, entryID domain.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.LoadEntries(ctx, id)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	i := indexOf(entries, entryID)
	if i < 0 {
		return domain.ErrEntryNotFound
	}
	entries = append(entries[:i], entries[i+1:]...)

	if err := s.store.SaveEntries(ctx, id, entries); err != nil {
		return fmt.Errorf("save entries: %w", err)
	}

	observability.LoggerFromContext(ctx).Info("journal entry deleted", "entry_id", entryID)
	return nil
}

func indexOf(entries []*domain.JournalEntry, id domain.EntryID) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
