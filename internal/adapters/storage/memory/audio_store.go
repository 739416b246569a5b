package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

type AudioStore struct {
	mu    sync.RWMutex
	blobs map[string]domain.Audio
}

func NewAudioStore() *AudioStore {
	return &AudioStore{
		blobs: make(map[string]domain.Audio),
	}
}

func (s *AudioStore) PutAudio(_ context.Context, id domain.Identity, audio domain.Audio) (domain.AudioRef, error) {
	ref := domain.AudioRef(uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[blobKey(id, ref)] = domain.Audio{
		Data:     append([]byte(nil), audio.Data...),
		MimeType: audio.MimeType,
	}
	return ref, nil
}

// GetAudio only finds audio stored under the same identity.
func (s *AudioStore) GetAudio(_ context.Context, id domain.Identity, ref domain.AudioRef) (domain.Audio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.blobs[blobKey(id, ref)]
	if !ok {
		return domain.Audio{}, domain.ErrAudioNotFound
	}
	return a, nil
}

func (s *AudioStore) DeleteAudio(_ context.Context, id domain.Identity, ref domain.AudioRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, blobKey(id, ref))
	return nil
}

func blobKey(id domain.Identity, ref domain.AudioRef) string {
	return id.Key() + "/" + string(ref)
}
