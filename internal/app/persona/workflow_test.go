package persona_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-voice/internal/adapters/llm"
	"github.com/PabloGalante/farum-voice/internal/adapters/speech"
	"github.com/PabloGalante/farum-voice/internal/adapters/storage/memory"
	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/domain"
)

type flakyDesigner struct {
	*speech.Mock
	designErr   error
	finalizeErr error
	finalized   int
	samples     []string
}

func (d *flakyDesigner) DesignVoice(ctx context.Context, description, sample string) (domain.VoicePreview, error) {
	d.samples = append(d.samples, sample)
	if d.designErr != nil {
		return domain.VoicePreview{}, d.designErr
	}
	return d.Mock.DesignVoice(ctx, description, sample)
}

func (d *flakyDesigner) FinalizeVoice(ctx context.Context, preview domain.VoiceID, name, description string) (domain.VoiceID, error) {
	d.finalized++
	if d.finalizeErr != nil {
		return "", d.finalizeErr
	}
	return d.Mock.FinalizeVoice(ctx, preview, name, description)
}

type badGenerator struct{}

func (badGenerator) GeneratePersona(context.Context, string) (domain.PersonaDraft, error) {
	return domain.PersonaDraft{}, &domain.SchemaError{Field: "name", Reason: "is required"}
}

func newWorkflow(designer *flakyDesigner) (*persona.Workflow, *persona.Registry) {
	reg := persona.NewRegistry(memory.NewPersonaStore())
	return persona.NewWorkflow(llm.NewMockLLM(), designer, reg), reg
}

func TestWorkflowHappyPath(t *testing.T) {
	ctx := context.Background()
	designer := &flakyDesigner{Mock: speech.NewMock()}
	wf, reg := newWorkflow(designer)
	id := domain.User("alice")

	preview, err := wf.Generate(ctx, "  a calm mountain guide  ")
	require.NoError(t, err)
	assert.Equal(t, persona.StatePreview, wf.State())
	assert.NotEmpty(t, preview.Draft.Name)
	assert.NotEmpty(t, preview.Voice.VoiceID)
	require.Len(t, designer.samples, 1)
	assert.GreaterOrEqual(t, len(designer.samples[0]), 100)

	custom, err := reg.Custom(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, custom, "nothing is stored before confirmation")

	p, err := wf.Confirm(ctx, id, "Mira")
	require.NoError(t, err)
	assert.Equal(t, persona.StateComplete, wf.State())
	assert.Equal(t, "Mira", p.Name)
	assert.True(t, p.Custom)
	assert.NotEqual(t, preview.Voice.VoiceID, p.VoiceID)

	got, err := reg.Resolve(ctx, id, domain.Custom(p.ID))
	require.NoError(t, err)
	assert.Equal(t, p.VoiceID, got.VoiceID)
	assert.Equal(t, preview.Draft.Instruction, got.Instruction)
}

func TestWorkflowRejectsEmptyDescription(t *testing.T) {
	wf, _ := newWorkflow(&flakyDesigner{Mock: speech.NewMock()})

	_, err := wf.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyPrompt)
	assert.Equal(t, persona.StateInput, wf.State())
}

func TestWorkflowGenerationFailures(t *testing.T) {
	ctx := context.Background()

	wf := persona.NewWorkflow(badGenerator{}, speech.NewMock(), persona.NewRegistry(memory.NewPersonaStore()))
	_, err := wf.Generate(ctx, "anything")
	assert.ErrorIs(t, err, domain.ErrPersonaGenerationFailed)
	assert.Equal(t, persona.StateFailed, wf.State())
	assert.Equal(t, domain.StageGenerating, wf.FailedStage())

	designer := &flakyDesigner{
		Mock:      speech.NewMock(),
		designErr: &domain.UpstreamError{Service: "elevenlabs", Status: 422, Message: "bad description"},
	}
	wf, _ = newWorkflow(designer)
	_, err = wf.Generate(ctx, "anything")
	assert.ErrorIs(t, err, domain.ErrVoiceGenerationFailed)

	var se *domain.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 422, se.Status)

	// A failed generation can be retried directly.
	designer.designErr = nil
	_, err = wf.Generate(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, persona.StatePreview, wf.State())
}

func TestWorkflowFinalizationFailureKeepsPreview(t *testing.T) {
	ctx := context.Background()
	designer := &flakyDesigner{Mock: speech.NewMock(), finalizeErr: errors.New("boom")}
	wf, reg := newWorkflow(designer)
	id := domain.Guest()

	preview, err := wf.Generate(ctx, "a witty friend")
	require.NoError(t, err)

	_, err = wf.Confirm(ctx, id, "")
	assert.ErrorIs(t, err, domain.ErrVoiceFinalizationFailed)
	assert.Equal(t, persona.StateFailed, wf.State())

	kept, ok := wf.Preview()
	require.True(t, ok)
	assert.Equal(t, preview, kept)

	custom, _ := reg.Custom(ctx, id)
	assert.Empty(t, custom)

	designer.finalizeErr = nil
	p, err := wf.Confirm(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, preview.Draft.Name, p.Name)
	assert.Equal(t, 2, designer.finalized)
}

func TestWorkflowRegenerateDiscardsPreview(t *testing.T) {
	ctx := context.Background()
	wf, reg := newWorkflow(&flakyDesigner{Mock: speech.NewMock()})

	first, err := wf.Generate(ctx, "a gentle coach")
	require.NoError(t, err)

	require.NoError(t, wf.Regenerate())
	assert.Equal(t, persona.StateInput, wf.State())
	_, ok := wf.Preview()
	assert.False(t, ok)

	_, err = wf.Confirm(ctx, domain.Guest(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	second, err := wf.Generate(ctx, "a gentle coach")
	require.NoError(t, err)
	assert.NotEqual(t, first.Voice.VoiceID, second.Voice.VoiceID)

	custom, _ := reg.Custom(ctx, domain.Guest())
	assert.Empty(t, custom)
}

func TestWorkflowRejectsOutOfOrderCalls(t *testing.T) {
	ctx := context.Background()
	wf, _ := newWorkflow(&flakyDesigner{Mock: speech.NewMock()})

	_, err := wf.Generate(ctx, "first")
	require.NoError(t, err)

	_, err = wf.Generate(ctx, "second")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = wf.Confirm(ctx, domain.Guest(), "")
	require.NoError(t, err)
	assert.ErrorIs(t, wf.Regenerate(), domain.ErrInvalidTransition)
}

// flakyCommitter fails until err is cleared.
type flakyCommitter struct {
	*persona.Registry
	err error
}

func (c *flakyCommitter) Add(ctx context.Context, id domain.Identity, p *domain.Persona) error {
	if c.err != nil {
		return c.err
	}
	return c.Registry.Add(ctx, id, p)
}

func TestWorkflowCommitRetryReusesFinalizedVoice(t *testing.T) {
	ctx := context.Background()
	designer := &flakyDesigner{Mock: speech.NewMock()}
	committer := &flakyCommitter{Registry: persona.NewRegistry(memory.NewPersonaStore()), err: errors.New("disk full")}
	wf := persona.NewWorkflow(llm.NewMockLLM(), designer, committer)
	id := domain.User("erin")

	_, err := wf.Generate(ctx, "a patient teacher")
	require.NoError(t, err)

	_, err = wf.Confirm(ctx, id, "")
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
	assert.Equal(t, persona.StateFailed, wf.State())
	assert.Equal(t, 1, designer.finalized)

	committer.err = nil
	p, err := wf.Confirm(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, 1, designer.finalized)
	assert.NotEmpty(t, p.VoiceID)

	custom, err := committer.Custom(ctx, id)
	require.NoError(t, err)
	require.Len(t, custom, 1)
	assert.Equal(t, p.VoiceID, custom[0].VoiceID)
}
