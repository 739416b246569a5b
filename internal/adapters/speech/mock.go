package speech

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

// Mock returns silent placeholder audio and fresh voice ids. For local mode only.
type Mock struct{}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Transcribe(_ context.Context, audio domain.Audio) (string, error) {
	return fmt.Sprintf("mock transcript of %d bytes", len(audio.Data)), nil
}

func (m *Mock) Synthesize(_ context.Context, text string, voice domain.VoiceID) (domain.Audio, error) {
	return domain.Audio{
		Data:     []byte(fmt.Sprintf("mock-audio voice=%s text=%s", voice, text)),
		MimeType: "audio/mpeg",
	}, nil
}

func (m *Mock) DesignVoice(_ context.Context, description, _ string) (domain.VoicePreview, error) {
	return domain.VoicePreview{
		VoiceID: domain.VoiceID("preview-" + uuid.NewString()),
		Audio:   domain.Audio{Data: []byte("mock-preview " + description), MimeType: "audio/mpeg"},
	}, nil
}

func (m *Mock) FinalizeVoice(_ context.Context, preview domain.VoiceID, _, _ string) (domain.VoiceID, error) {
	return domain.VoiceID("voice-" + uuid.NewString()), nil
}
