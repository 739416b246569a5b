package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

type PersonaStore struct {
	mu       sync.RWMutex
	personas map[string][]*domain.Persona
}

func NewPersonaStore() *PersonaStore {
	return &PersonaStore{
		personas: make(map[string][]*domain.Persona),
	}
}

func (s *PersonaStore) LoadPersonas(_ context.Context, id domain.Identity) ([]*domain.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return clonePersonas(s.personas[id.Key()]), nil
}

func (s *PersonaStore) SavePersonas(_ context.Context, id domain.Identity, personas []*domain.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.personas[id.Key()] = clonePersonas(personas)
	return nil
}

func clonePersonas(in []*domain.Persona) []*domain.Persona {
	out := make([]*domain.Persona, 0, len(in))
	for _, p := range in {
		c := *p
		out = append(out, &c)
	}
	return out
}
