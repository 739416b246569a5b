package insight_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-voice/internal/adapters/llm"
	"github.com/PabloGalante/farum-voice/internal/adapters/storage/memory"
	"github.com/PabloGalante/farum-voice/internal/app/entitlement"
	"github.com/PabloGalante/farum-voice/internal/app/insight"
	"github.com/PabloGalante/farum-voice/internal/app/journal"
	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

const validInsight = `{
  "summary": "Work has been heavy lately.",
  "emotions": [{"name": "overwhelm", "score": 0.8}, {"name": "fatigue", "score": 0.6}],
  "topics": ["work", "sleep"],
  "psychMarkers": [{"name": "stress", "level": "high", "description": "Sustained pressure at work."}],
  "feedbackText": "That sounds like a lot to carry. What is one thing you could set down this week?"
}`

const missingTopics = `{
  "summary": "Work has been heavy lately.",
  "emotions": [{"name": "overwhelm", "score": 0.8}, {"name": "fatigue", "score": 0.6}],
  "psychMarkers": [{"name": "stress", "level": "high", "description": "Sustained pressure at work."}],
  "feedbackText": "That sounds like a lot."
}`

// fakeAI records calls and lets each test choose the responses.
type fakeAI struct {
	transcript    string
	transcribeErr error
	analysisJSON  string
	analyzeResult *domain.Insight
	analyzeErr    error
	synthErr      error

	calls     []string
	request   domain.AnalysisRequest
	synthText string
	synthVoc  domain.VoiceID
}

func (f *fakeAI) Transcribe(_ context.Context, _ domain.Audio) (string, error) {
	f.calls = append(f.calls, "transcribe")
	return f.transcript, f.transcribeErr
}

func (f *fakeAI) Analyze(_ context.Context, req domain.AnalysisRequest) (domain.Insight, error) {
	f.calls = append(f.calls, "analyze")
	f.request = req
	if f.analyzeErr != nil {
		return domain.Insight{}, f.analyzeErr
	}
	if f.analyzeResult != nil {
		return *f.analyzeResult, nil
	}
	raw := f.analysisJSON
	if raw == "" {
		raw = validInsight
	}
	return llm.ParseInsight(raw)
}

func (f *fakeAI) Synthesize(_ context.Context, text string, voice domain.VoiceID) (domain.Audio, error) {
	f.calls = append(f.calls, "synthesize")
	f.synthText = text
	f.synthVoc = voice
	if f.synthErr != nil {
		return domain.Audio{}, f.synthErr
	}
	return domain.Audio{Data: []byte("feedback"), MimeType: "audio/mpeg"}, nil
}

type env struct {
	ai       *fakeAI
	journal  *journal.Service
	gate     *entitlement.Gate
	registry *persona.Registry
	audio    *memory.AudioStore
	pipeline *insight.Pipeline
	states   []insight.State
}

func newEnv() *env {
	e := &env{
		ai:       &fakeAI{transcript: "I feel overwhelmed at work"},
		journal:  journal.NewService(memory.NewEntryStore()),
		gate:     entitlement.NewGate(memory.NewEntitlementStore(), 3),
		registry: persona.NewRegistry(memory.NewPersonaStore()),
		audio:    memory.NewAudioStore(),
	}
	e.pipeline = insight.NewPipeline(insight.Deps{
		Transcriber: e.ai,
		Analyzer:    e.ai,
		Synthesizer: e.ai,
		Personas:    e.registry,
		Entries:     e.journal,
		Audio:       e.audio,
		Usage:       e.gate,
	}, insight.WithObserver(func(s insight.State) { e.states = append(e.states, s) }))
	return e
}

func recording() domain.Audio {
	return domain.Audio{Data: []byte{0x1a, 0x45, 0xdf, 0xa3}, MimeType: "audio/webm"}
}

func requireStageError(t *testing.T, err error, stage domain.Stage, kind error) *domain.StageError {
	t.Helper()
	var se *domain.StageError
	require.True(t, errors.As(err, &se), "expected *domain.StageError, got %v", err)
	assert.Equal(t, stage, se.Stage)
	assert.ErrorIs(t, err, kind)
	return se
}

func (e *env) entryCount(t *testing.T, id domain.Identity) int {
	t.Helper()
	entries, err := e.journal.List(context.Background(), id, 100)
	require.NoError(t, err)
	return len(entries)
}

func TestProcessWithCustomPersona(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	id := domain.User("alice")

	p := &domain.Persona{ID: "p-1", Name: "Nova", Instruction: "Be direct.", FeedbackStyle: "Brief.", VoiceID: "v-nova", Custom: true}
	require.NoError(t, e.registry.Add(ctx, id, p))

	before, err := e.gate.Remaining(ctx, id)
	require.NoError(t, err)

	entry, err := e.pipeline.Process(ctx, insight.ProcessInput{
		Identity:  id,
		Audio:     recording(),
		Selection: domain.Custom("p-1"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.NotEmpty(t, entry.FeedbackText)
	assert.Equal(t, domain.VoiceID("v-nova"), entry.VoiceID)
	assert.Equal(t, domain.PersonaID("p-1"), entry.PersonaID)
	assert.Equal(t, "Nova", entry.PersonaName)
	assert.Equal(t, "I feel overwhelmed at work", entry.Transcript)
	assert.Empty(t, entry.Conversation)

	assert.GreaterOrEqual(t, len(entry.Emotions), domain.MinEmotions)
	assert.LessOrEqual(t, len(entry.Emotions), domain.MaxEmotions)
	assert.GreaterOrEqual(t, len(entry.Topics), domain.MinTopics)
	assert.LessOrEqual(t, len(entry.Topics), domain.MaxTopics)
	assert.GreaterOrEqual(t, len(entry.PsychMarkers), domain.MinMarkers)
	assert.LessOrEqual(t, len(entry.PsychMarkers), domain.MaxMarkers)

	assert.Equal(t, "Be direct.", e.ai.request.Instruction)
	assert.Equal(t, "Brief.", e.ai.request.FeedbackStyle)
	assert.Equal(t, entry.FeedbackText, e.ai.synthText)
	assert.Equal(t, domain.VoiceID("v-nova"), e.ai.synthVoc)

	after, err := e.gate.Remaining(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Count-1, after.Count)

	assert.Equal(t, []insight.State{
		insight.StateTranscribing,
		insight.StateAnalyzing,
		insight.StateSynthesizing,
		insight.StateComplete,
	}, e.states)

	stored, err := e.journal.Get(ctx, id, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Summary, stored.Summary)

	rec, err := e.audio.GetAudio(ctx, id, entry.Recording)
	require.NoError(t, err)
	assert.Equal(t, recording().Data, rec.Data)

	fb, err := e.audio.GetAudio(ctx, id, entry.FeedbackAudio)
	require.NoError(t, err)
	assert.Equal(t, []byte("feedback"), fb.Data)
}

func TestEmptyRecordingCallsNoAdapter(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	id := domain.Guest()

	for _, audio := range []domain.Audio{{}, {Data: []byte{}, MimeType: "audio/webm"}} {
		entry, err := e.pipeline.Process(ctx, insight.ProcessInput{Identity: id, Audio: audio})
		assert.Nil(t, entry)
		requireStageError(t, err, domain.StagePreCheck, domain.ErrEmptyRecording)
	}

	assert.Empty(t, e.ai.calls)
	assert.Empty(t, e.states)
	assert.Zero(t, e.entryCount(t, id))
}

func TestMissingTopicsIsSchemaInvalid(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.ai.analysisJSON = missingTopics
	id := domain.Guest()

	_, err := e.pipeline.Process(ctx, insight.ProcessInput{Identity: id, Audio: recording(), Selection: domain.BuiltIn(persona.VoiceSage)})
	se := requireStageError(t, err, domain.StageAnalyzing, domain.ErrAnalysisSchemaInvalid)
	assert.Contains(t, se.Message, "topics")

	assert.Equal(t, []string{"transcribe", "analyze"}, e.ai.calls)
	assert.Equal(t, insight.StateFailed, e.states[len(e.states)-1])
	assert.Zero(t, e.entryCount(t, id))

	st, err := e.gate.State(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, st.EntryCount)
}

func TestInvalidInsightIsNeverCoerced(t *testing.T) {
	e := newEnv()
	e.ai.analyzeResult = &domain.Insight{
		Summary:      "s",
		Emotions:     []domain.Emotion{{Name: "calm", Score: 0.2}},
		Topics:       []string{"a", "b"},
		PsychMarkers: []domain.PsychMarker{{Name: "m", Level: domain.MarkerLow}},
		FeedbackText: "ok",
	}

	_, err := e.pipeline.Process(context.Background(), insight.ProcessInput{Identity: domain.Guest(), Audio: recording()})
	requireStageError(t, err, domain.StageAnalyzing, domain.ErrAnalysisSchemaInvalid)
	assert.NotContains(t, e.ai.calls, "synthesize")
}

func TestAnalysisCallFailure(t *testing.T) {
	e := newEnv()
	e.ai.analyzeErr = &domain.UpstreamError{Service: "gemini", Status: 429, Message: "quota exceeded"}

	_, err := e.pipeline.Process(context.Background(), insight.ProcessInput{Identity: domain.Guest(), Audio: recording()})
	se := requireStageError(t, err, domain.StageAnalyzing, domain.ErrAnalysisFailed)
	assert.Equal(t, 429, se.Status)
}

func TestTranscriptionFailureCarriesUpstreamStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.ai.transcribeErr = &domain.UpstreamError{Service: "elevenlabs", Status: 503, Message: "service unavailable"}
	id := domain.Guest()

	_, err := e.pipeline.Process(ctx, insight.ProcessInput{Identity: id, Audio: recording()})
	se := requireStageError(t, err, domain.StageTranscribing, domain.ErrTranscriptionFailed)
	assert.Equal(t, 503, se.Status)
	assert.Equal(t, "service unavailable", se.Message)

	assert.Equal(t, []string{"transcribe"}, e.ai.calls)
	assert.Equal(t, []insight.State{insight.StateTranscribing, insight.StateFailed}, e.states)
	assert.Zero(t, e.entryCount(t, id))
}

func TestSynthesisFailureLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.ai.synthErr = errors.New("tts down")
	id := domain.Guest()

	_, err := e.pipeline.Process(ctx, insight.ProcessInput{Identity: id, Audio: recording()})
	requireStageError(t, err, domain.StageSynthesizing, domain.ErrSynthesisFailed)

	assert.Zero(t, e.entryCount(t, id))
	rem, err := e.gate.Remaining(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, rem.Count)
}

func TestEmptyTranscriptPassesThrough(t *testing.T) {
	e := newEnv()
	e.ai.transcript = ""

	entry, err := e.pipeline.Process(context.Background(), insight.ProcessInput{Identity: domain.Guest(), Audio: recording()})
	require.NoError(t, err)
	assert.Equal(t, "", entry.Transcript)
	assert.Equal(t, "", e.ai.request.Transcript)
}

func TestUnresolvedSelectionUsesDefaultPersona(t *testing.T) {
	e := newEnv()

	entry, err := e.pipeline.Process(context.Background(), insight.ProcessInput{
		Identity:  domain.Guest(),
		Audio:     recording(),
		Selection: domain.Custom("deleted-persona"),
	})
	require.NoError(t, err)
	assert.Equal(t, persona.DefaultVoice(), entry.VoiceID)
	assert.Equal(t, persona.DefaultInstruction, e.ai.request.Instruction)
}

func TestPipelineHasNoEntitlementGate(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	id := domain.User("bob")

	for i := 0; i < 3; i++ {
		_, err := e.pipeline.Process(ctx, insight.ProcessInput{Identity: id, Audio: recording()})
		require.NoError(t, err)
	}

	ok, err := e.gate.CanCreate(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, e.gate.Check(ctx, id), domain.ErrEntitlementExceeded)

	// The caller is expected to have blocked this; the pipeline still runs.
	_, err = e.pipeline.Process(ctx, insight.ProcessInput{Identity: id, Audio: recording()})
	require.NoError(t, err)
	assert.Equal(t, 4, e.entryCount(t, id))
}

// trackedAudio remembers every ref it hands out.
type trackedAudio struct {
	*memory.AudioStore
	refs []domain.AudioRef
}

func (a *trackedAudio) PutAudio(ctx context.Context, id domain.Identity, audio domain.Audio) (domain.AudioRef, error) {
	ref, err := a.AudioStore.PutAudio(ctx, id, audio)
	if err == nil {
		a.refs = append(a.refs, ref)
	}
	return ref, err
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, domain.Identity, *domain.JournalEntry) error {
	return errors.New("disk full")
}

func TestFailedEntryWriteDiscardsAudio(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	audio := &trackedAudio{AudioStore: memory.NewAudioStore()}
	id := domain.User("dana")

	p := insight.NewPipeline(insight.Deps{
		Transcriber: e.ai,
		Analyzer:    e.ai,
		Synthesizer: e.ai,
		Personas:    e.registry,
		Entries:     failingAppender{},
		Audio:       audio,
		Usage:       e.gate,
	})

	entry, err := p.Process(ctx, insight.ProcessInput{Identity: id, Audio: recording()})
	assert.Nil(t, entry)
	se := requireStageError(t, err, domain.StagePersisting, domain.ErrPersistenceFailed)
	assert.Contains(t, se.Error(), "disk full")

	require.Len(t, audio.refs, 2)
	for _, ref := range audio.refs {
		_, err := audio.GetAudio(ctx, id, ref)
		assert.ErrorIs(t, err, domain.ErrAudioNotFound)
	}

	st, err := e.gate.State(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, st.EntryCount)
}

func TestLogLinesCarryIdentityOnce(t *testing.T) {
	var buf bytes.Buffer
	observability.SetOutput(&buf)
	t.Cleanup(func() { observability.SetOutput(os.Stdout) })

	id := domain.User("gwen")
	e := newEnv()

	// With the identity already in the context, as the HTTP middleware does it.
	ctx := observability.WithIdentity(context.Background(), id.Key())
	_, err := e.pipeline.Process(ctx, insight.ProcessInput{Identity: id, Audio: recording()})
	require.NoError(t, err)

	// And without it, as the CLI calls the pipeline.
	_, err = e.pipeline.Process(context.Background(), insight.ProcessInput{Identity: id, Audio: recording()})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"identity":`), line)
	}
}
