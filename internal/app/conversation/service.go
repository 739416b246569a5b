package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

type EntryRepository interface {
	Get(ctx context.Context, id domain.Identity, entryID domain.EntryID) (*domain.JournalEntry, error)
	Replace(ctx context.Context, id domain.Identity, entry *domain.JournalEntry) error
}

type PersonaResolver interface {
	Resolve(ctx context.Context, id domain.Identity, sel domain.VoiceSelection) (domain.ResolvedPersona, error)
}

type Deps struct {
	Transcriber domain.Transcriber
	Converser   domain.Converser
	Synthesizer domain.Synthesizer
	Entries     EntryRepository
	Personas    PersonaResolver
	Audio       domain.AudioStore
}

// Service extends an entry with a spoken dialogue, one user/assistant round at a time.
// Callers must not run two rounds on the same entry concurrently.
type Service struct {
	deps Deps
	now  func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		deps: deps,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedConversation gives an entry with no turns a first assistant turn rebuilt from its
// original feedback. It reports whether the entry changed; seeded entries are left alone.
func SeedConversation(e *domain.JournalEntry) bool {
	if len(e.Conversation) > 0 {
		return false
	}
	e.Conversation = []domain.ConversationTurn{{
		ID:        domain.TurnID(uuid.NewString()),
		Role:      domain.RoleAssistant,
		Text:      e.FeedbackText,
		Audio:     e.FeedbackAudio,
		CreatedAt: e.CreatedAt,
	}}
	return true
}

// Seed loads an entry and persists its seeded conversation if it had none.
// Calling it again returns the already-seeded entry unchanged.
func (s *Service) Seed(ctx context.Context, id domain.Identity, entryID domain.EntryID) (*domain.JournalEntry, error) {
	entry, err := s.deps.Entries.Get(ctx, id, entryID)
	if err != nil {
		return nil, err
	}

	seeded := entry.Clone()
	if !SeedConversation(seeded) {
		return entry, nil
	}

	if err := s.deps.Entries.Replace(ctx, id, seeded); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to persist seeded conversation",
			"entry_id", entryID,
			"error", err,
		)
		return nil, domain.NewStageError(domain.StagePersisting, domain.ErrPersistenceFailed, err)
	}

	observability.LoggerFromContext(ctx).Info("conversation seeded", "entry_id", entryID)
	return seeded, nil
}

type AppendTurnInput struct {
	Identity domain.Identity
	EntryID  domain.EntryID
	Audio    domain.Audio
}

type AppendTurnOutput struct {
	Entry         *domain.JournalEntry
	UserTurn      domain.ConversationTurn
	AssistantTurn domain.ConversationTurn
}

// AppendTurn runs one round: transcribe the reply, ask the model for the next assistant
// line, voice it, then store both turns together. A failure stores nothing.
func (s *Service) AppendTurn(ctx context.Context, in AppendTurnInput) (*AppendTurnOutput, error) {
	ctx = observability.WithIdentity(ctx, in.Identity.Key())
	log := observability.LoggerFromContext(ctx).With("entry_id", in.EntryID)

	if in.Audio.Empty() {
		log.Warn("rejecting empty reply recording")
		return nil, &domain.StageError{Stage: domain.StagePreCheck, Kind: domain.ErrEmptyRecording}
	}

	entry, err := s.Seed(ctx, in.Identity, in.EntryID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.deps.Personas.Resolve(ctx, in.Identity, persona.SelectionFor(entry))
	if err != nil {
		log.Error("failed to resolve persona", "error", err)
		return nil, domain.NewStageError(domain.StagePreCheck, domain.ErrPersistenceFailed, err)
	}

	log.Info("conversation round started", "turns", len(entry.Conversation))
	start := time.Now()

	text, err := s.deps.Transcriber.Transcribe(ctx, in.Audio)
	if err != nil {
		log.Error("transcription failed", "error", err)
		return nil, domain.NewStageError(domain.StageTranscribing, domain.ErrTranscriptionFailed, err)
	}

	userTurn := domain.ConversationTurn{
		ID:        domain.TurnID(uuid.NewString()),
		Role:      domain.RoleUser,
		Text:      text,
		CreatedAt: s.now(),
	}

	reply, err := s.deps.Converser.Reply(ctx, resolved.Instruction, BuildContext(entry), text)
	if err != nil {
		log.Error("reply generation failed", "error", err)
		return nil, domain.NewStageError(domain.StageAnalyzing, replyKind(err), err)
	}

	// Synthesize with the voice the entry was created with, even if its persona is gone.
	voice := entry.VoiceID
	if voice == "" {
		voice = resolved.VoiceID
	}
	replyAudio, err := s.deps.Synthesizer.Synthesize(ctx, reply, voice)
	if err != nil {
		log.Error("reply synthesis failed", "error", err)
		return nil, domain.NewStageError(domain.StageSynthesizing, domain.ErrSynthesisFailed, err)
	}

	updated, out, err := s.commit(ctx, in, entry, userTurn, reply, replyAudio)
	if err != nil {
		log.Error("failed to store conversation round", "error", err)
		return nil, domain.NewStageError(domain.StagePersisting, domain.ErrPersistenceFailed, err)
	}

	log.Info("conversation round completed",
		"turns", len(updated.Conversation),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (s *Service) commit(
	ctx context.Context,
	in AppendTurnInput,
	entry *domain.JournalEntry,
	userTurn domain.ConversationTurn,
	reply string,
	replyAudio domain.Audio,
) (_ *domain.JournalEntry, _ *AppendTurnOutput, err error) {
	var written []domain.AudioRef
	defer func() {
		if err == nil {
			return
		}
		for _, ref := range written {
			if derr := s.deps.Audio.DeleteAudio(ctx, in.Identity, ref); derr != nil {
				observability.LoggerFromContext(ctx).Warn("failed to discard turn audio",
					"audio_ref", ref,
					"error", derr,
				)
			}
		}
	}()

	userRef, err := s.deps.Audio.PutAudio(ctx, in.Identity, in.Audio)
	if err != nil {
		return nil, nil, err
	}
	written = append(written, userRef)

	replyRef, err := s.deps.Audio.PutAudio(ctx, in.Identity, replyAudio)
	if err != nil {
		return nil, nil, err
	}
	written = append(written, replyRef)
	userTurn.Audio = userRef

	assistantTurn := domain.ConversationTurn{
		ID:        domain.TurnID(uuid.NewString()),
		Role:      domain.RoleAssistant,
		Text:      reply,
		Audio:     replyRef,
		CreatedAt: s.now(),
	}

	updated := entry.Clone()
	updated.Conversation = append(updated.Conversation, userTurn, assistantTurn)

	if err := s.deps.Entries.Replace(ctx, in.Identity, updated); err != nil {
		return nil, nil, err
	}

	return updated, &AppendTurnOutput{
		Entry:         updated,
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
	}, nil
}

// Timeline returns the seeded turn sequence of an entry.
func (s *Service) Timeline(ctx context.Context, id domain.Identity, entryID domain.EntryID) ([]domain.ConversationTurn, error) {
	entry, err := s.Seed(ctx, id, entryID)
	if err != nil {
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info("fetched conversation timeline",
		"entry_id", entryID,
		"turn_count", len(entry.Conversation),
	)
	return entry.Conversation, nil
}

// BuildContext anchors the model on the entry: its transcript, emotion names, topics and
// every turn so far.
func BuildContext(e *domain.JournalEntry) domain.ConversationContext {
	history := make([]domain.ChatMessage, 0, len(e.Conversation))
	for _, t := range e.Conversation {
		history = append(history, domain.ChatMessage{Role: t.Role, Content: t.Text})
	}

	return domain.ConversationContext{
		EntryID:    e.ID,
		Transcript: e.Transcript,
		Emotions:   e.EmotionNames(),
		Topics:     append([]string(nil), e.Topics...),
		History:    history,
	}
}

func replyKind(err error) error {
	var schema *domain.SchemaError
	if errors.As(err, &schema) {
		return domain.ErrAnalysisSchemaInvalid
	}
	return domain.ErrAnalysisFailed
}
