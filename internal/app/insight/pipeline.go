package insight

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

// State is the processing state of one pipeline invocation.
type State int

const (
	StateIdle State = iota
	StateTranscribing
	StateAnalyzing
	StateSynthesizing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateAnalyzing:
		return "analyzing"
	case StateSynthesizing:
		return "synthesizing"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Observer is told about every state change of an invocation.
type Observer func(State)

type PersonaResolver interface {
	Resolve(ctx context.Context, id domain.Identity, sel domain.VoiceSelection) (domain.ResolvedPersona, error)
}

type EntryAppender interface {
	Append(ctx context.Context, id domain.Identity, entry *domain.JournalEntry) error
}

type UsageRecorder interface {
	RecordCreation(ctx context.Context, id domain.Identity) error
}

type Deps struct {
	Transcriber domain.Transcriber
	Analyzer    domain.Analyzer
	Synthesizer domain.Synthesizer
	Personas    PersonaResolver
	Entries     EntryAppender
	Audio       domain.AudioStore
	Usage       UsageRecorder
}

// Pipeline turns one recording into a stored JournalEntry:
// transcribe, analyze with the resolved persona, synthesize the feedback, then commit.
// It performs no entitlement check; callers gate before calling Process.
type Pipeline struct {
	deps     Deps
	observer Observer
	now      func() time.Time
}

type Option func(*Pipeline)

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps: deps,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type ProcessInput struct {
	Identity  domain.Identity
	Audio     domain.Audio
	Selection domain.VoiceSelection
}

// Process runs one single-shot invocation. On failure it returns a *domain.StageError
// and nothing has been written.
func (p *Pipeline) Process(ctx context.Context, in ProcessInput) (*domain.JournalEntry, error) {
	ctx = observability.WithIdentity(ctx, in.Identity.Key())
	log := observability.LoggerFromContext(ctx).With("selection", in.Selection.String())

	if in.Audio.Empty() {
		log.Warn("rejecting empty recording")
		return nil, &domain.StageError{Stage: domain.StagePreCheck, Kind: domain.ErrEmptyRecording}
	}

	r := &run{log: log, observe: p.observer, started: time.Now()}
	r.stageStart = r.started
	log.Info("insight pipeline started", "audio_bytes", len(in.Audio.Data), "mime_type", in.Audio.MimeType)

	persona, err := p.deps.Personas.Resolve(ctx, in.Identity, in.Selection)
	if err != nil {
		return nil, r.fail(domain.StagePreCheck, domain.ErrPersistenceFailed, err)
	}
	if persona.Fallback {
		log.Warn("selection did not resolve, using default persona")
	}

	// Transcribing
	if err := r.enter(StateTranscribing); err != nil {
		return nil, err
	}
	transcript, err := p.deps.Transcriber.Transcribe(ctx, in.Audio)
	if err != nil {
		return nil, r.fail(domain.StageTranscribing, domain.ErrTranscriptionFailed, err)
	}
	if transcript == "" {
		log.Warn("empty transcript, continuing with analysis")
	}

	// Analyzing
	if err := r.enter(StateAnalyzing); err != nil {
		return nil, err
	}
	ins, err := p.deps.Analyzer.Analyze(ctx, domain.AnalysisRequest{
		Transcript:    transcript,
		Instruction:   persona.Instruction,
		FeedbackStyle: persona.FeedbackStyle,
	})
	if err == nil {
		err = ins.Validate()
	}
	if err != nil {
		return nil, r.fail(domain.StageAnalyzing, analysisKind(err), err)
	}

	// Synthesizing
	if err := r.enter(StateSynthesizing); err != nil {
		return nil, err
	}
	feedback, err := p.deps.Synthesizer.Synthesize(ctx, ins.FeedbackText, persona.VoiceID)
	if err != nil {
		return nil, r.fail(domain.StageSynthesizing, domain.ErrSynthesisFailed, err)
	}

	entry, err := p.commit(ctx, in, transcript, ins, feedback, persona)
	if err != nil {
		return nil, r.fail(domain.StagePersisting, domain.ErrPersistenceFailed, err)
	}

	if err := r.enter(StateComplete); err != nil {
		return nil, err
	}
	log.Info("insight pipeline completed",
		"entry_id", entry.ID,
		"voice_id", entry.VoiceID,
		"elapsed_ms", time.Since(r.started).Milliseconds(),
	)
	return entry, nil
}

// commit is the only place the pipeline writes. Audio stored before a failed entry
// write is deleted again. The usage counter is bumped after the entry is stored; a
// failure there is logged and the entry is kept.
func (p *Pipeline) commit(
	ctx context.Context,
	in ProcessInput,
	transcript string,
	ins domain.Insight,
	feedback domain.Audio,
	persona domain.ResolvedPersona,
) (_ *domain.JournalEntry, err error) {
	var written []domain.AudioRef
	defer func() {
		if err != nil {
			discardAudio(ctx, p.deps.Audio, in.Identity, written)
		}
	}()

	recordingRef, err := p.deps.Audio.PutAudio(ctx, in.Identity, in.Audio)
	if err != nil {
		return nil, err
	}
	written = append(written, recordingRef)

	feedbackRef, err := p.deps.Audio.PutAudio(ctx, in.Identity, feedback)
	if err != nil {
		return nil, err
	}
	written = append(written, feedbackRef)

	entry := &domain.JournalEntry{
		ID:            domain.EntryID(uuid.NewString()),
		CreatedAt:     p.now(),
		Transcript:    transcript,
		Summary:       ins.Summary,
		Emotions:      ins.Emotions,
		Topics:        ins.Topics,
		PsychMarkers:  ins.PsychMarkers,
		FeedbackText:  ins.FeedbackText,
		FeedbackAudio: feedbackRef,
		Recording:     recordingRef,
		VoiceID:       persona.VoiceID,
		PersonaID:     persona.PersonaID,
		PersonaName:   persona.Name,
		Conversation:  []domain.ConversationTurn{},
	}

	if err := p.deps.Entries.Append(ctx, in.Identity, entry); err != nil {
		return nil, err
	}

	if p.deps.Usage != nil {
		if err := p.deps.Usage.RecordCreation(ctx, in.Identity); err != nil {
			observability.LoggerFromContext(ctx).Error("failed to record entry creation",
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}
	return entry, nil
}

func discardAudio(ctx context.Context, store domain.AudioStore, id domain.Identity, refs []domain.AudioRef) {
	for _, ref := range refs {
		if err := store.DeleteAudio(ctx, id, ref); err != nil {
			observability.LoggerFromContext(ctx).Warn("failed to discard audio",
				"audio_ref", ref,
				"error", err,
			)
		}
	}
}

func analysisKind(err error) error {
	var schema *domain.SchemaError
	if errors.As(err, &schema) {
		return domain.ErrAnalysisSchemaInvalid
	}
	return domain.ErrAnalysisFailed
}

// run tracks the state machine of one invocation. States only move forward, one step
// at a time; Failed and Complete are terminal.
type run struct {
	state      State
	observe    Observer
	log        *slog.Logger
	started    time.Time
	stageStart time.Time
}

func (r *run) enter(next State) error {
	if r.state == StateComplete || r.state == StateFailed || next != r.state+1 {
		return domain.ErrInvalidTransition
	}

	now := time.Now()
	if r.state != StateIdle {
		r.log.Info("stage end", "stage", r.state.String(), "elapsed_ms", now.Sub(r.stageStart).Milliseconds())
	}
	r.stageStart = now
	r.state = next

	if next != StateComplete {
		r.log.Info("stage start", "stage", next.String())
	}
	if r.observe != nil {
		r.observe(next)
	}
	return nil
}

func (r *run) fail(stage domain.Stage, kind, err error) error {
	from := r.state
	r.state = StateFailed
	if r.observe != nil {
		r.observe(StateFailed)
	}

	se := domain.NewStageError(stage, kind, err)
	r.log.Error("insight pipeline failed",
		"stage", stage,
		"from_state", from.String(),
		"status", se.Status,
		"error", err,
		"elapsed_ms", time.Since(r.started).Milliseconds(),
	)
	return se
}
