package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

type EntitlementStore struct {
	mu     sync.RWMutex
	states map[string]domain.EntitlementState
}

func NewEntitlementStore() *EntitlementStore {
	return &EntitlementStore{
		states: make(map[string]domain.EntitlementState),
	}
}

// LoadEntitlement returns the zero state for identities never seen before.
func (s *EntitlementStore) LoadEntitlement(_ context.Context, id domain.Identity) (domain.EntitlementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.states[id.Key()], nil
}

func (s *EntitlementStore) SaveEntitlement(_ context.Context, id domain.Identity, state domain.EntitlementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[id.Key()] = state
	return nil
}
