package persona

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

// VoiceSampleText is read aloud by every preview voice. The voice design API needs at
// least 100 characters of sample text.
const VoiceSampleText = "Hi, I'm here to listen. Take a breath and tell me how your day really went; " +
	"there is no right or wrong way to say it, and we can take it one step at a time."

type State int

const (
	StateInput State = iota
	StateGenerating
	StatePreview
	StateCreating
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInput:
		return "input"
	case StateGenerating:
		return "generating"
	case StatePreview:
		return "preview"
	case StateCreating:
		return "creating"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Committer stores a finished persona.
type Committer interface {
	Add(ctx context.Context, id domain.Identity, p *domain.Persona) error
}

// Preview is what the user reviews before confirming a persona.
type Preview struct {
	Draft domain.PersonaDraft
	Voice domain.VoicePreview
}

// Workflow drives the creation of one custom persona:
// Input -> Generating -> Preview -> Creating -> Complete, with Failed reachable from
// Generating and Creating. Nothing is persisted before Complete.
type Workflow struct {
	generator domain.PersonaGenerator
	designer  domain.VoiceDesigner
	committer Committer
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failedStage domain.Stage
	description string
	preview     *Preview
	// finalVoice is the permanent voice made from preview, kept so a retry after a
	// failed commit does not finalize the same preview twice.
	finalVoice domain.VoiceID
	persona    *domain.Persona
}

func NewWorkflow(generator domain.PersonaGenerator, designer domain.VoiceDesigner, committer Committer) *Workflow {
	return &Workflow{
		generator: generator,
		designer:  designer,
		committer: committer,
		now:       time.Now,
	}
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// FailedStage is the stage of the last failure, empty unless State is StateFailed.
func (w *Workflow) FailedStage() domain.Stage {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateFailed {
		return ""
	}
	return w.failedStage
}

// Preview returns the generated draft and preview voice, if any.
func (w *Workflow) Preview() (Preview, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.preview == nil {
		return Preview{}, false
	}
	return *w.preview, true
}

// Persona returns the committed persona once the workflow is complete.
func (w *Workflow) Persona() (domain.Persona, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.persona == nil {
		return domain.Persona{}, false
	}
	return *w.persona, true
}

// Generate turns a description into persona fields and a preview voice.
func (w *Workflow) Generate(ctx context.Context, description string) (Preview, error) {
	description = strings.TrimSpace(description)

	w.mu.Lock()
	if !(w.state == StateInput || (w.state == StateFailed && w.preview == nil)) {
		w.mu.Unlock()
		return Preview{}, domain.ErrInvalidTransition
	}
	if description == "" {
		w.mu.Unlock()
		return Preview{}, &domain.StageError{Stage: domain.StagePreCheck, Kind: domain.ErrEmptyPrompt}
	}
	w.state = StateGenerating
	w.description = description
	w.mu.Unlock()

	log := observability.LoggerFromContext(ctx).With("workflow", "persona")
	log.Info("generating persona", "description_len", len(description))

	draft, err := w.generator.GeneratePersona(ctx, description)
	if err == nil {
		err = draft.Validate()
	}
	if err != nil {
		log.Error("persona generation failed", "error", err)
		return Preview{}, w.fail(domain.StageGenerating, domain.ErrPersonaGenerationFailed, err)
	}

	voice, err := w.designer.DesignVoice(ctx, voiceDescription(draft), VoiceSampleText)
	if err != nil {
		log.Error("voice design failed", "error", err)
		return Preview{}, w.fail(domain.StageGenerating, domain.ErrVoiceGenerationFailed, err)
	}

	p := Preview{Draft: draft, Voice: voice}

	w.mu.Lock()
	w.preview = &p
	w.state = StatePreview
	w.mu.Unlock()

	log.Info("persona preview ready", "name", draft.Name, "preview_voice", voice.VoiceID)
	return p, nil
}

// Confirm makes the preview voice permanent and commits the persona. An empty name keeps
// the generated one. A failed finalization keeps the preview so Confirm can be retried.
func (w *Workflow) Confirm(ctx context.Context, id domain.Identity, name string) (domain.Persona, error) {
	w.mu.Lock()
	if w.preview == nil || !(w.state == StatePreview || w.state == StateFailed) {
		w.mu.Unlock()
		return domain.Persona{}, domain.ErrInvalidTransition
	}
	w.state = StateCreating
	preview := *w.preview
	voiceID := w.finalVoice
	w.mu.Unlock()

	if name = strings.TrimSpace(name); name == "" {
		name = preview.Draft.Name
	}

	log := observability.LoggerFromContext(ctx).With("workflow", "persona", "name", name)
	log.Info("finalizing persona voice", "preview_voice", preview.Voice.VoiceID)

	if voiceID == "" {
		var err error
		voiceID, err = w.designer.FinalizeVoice(ctx, preview.Voice.VoiceID, name, voiceDescription(preview.Draft))
		if err != nil {
			log.Error("voice finalization failed", "error", err)
			return domain.Persona{}, w.fail(domain.StageCreating, domain.ErrVoiceFinalizationFailed, err)
		}

		w.mu.Lock()
		w.finalVoice = voiceID
		w.mu.Unlock()
	} else {
		log.Info("reusing finalized voice", "voice_id", voiceID)
	}

	p := &domain.Persona{
		ID:            domain.PersonaID(uuid.NewString()),
		Name:          name,
		Personality:   preview.Draft.Personality,
		Instruction:   preview.Draft.Instruction,
		FeedbackStyle: preview.Draft.FeedbackStyle,
		VoiceID:       voiceID,
		CreatedAt:     w.now(),
		Custom:        true,
	}

	if err := w.committer.Add(ctx, id, p); err != nil {
		log.Error("failed to store persona", "error", err)
		return domain.Persona{}, w.fail(domain.StageCreating, domain.ErrPersistenceFailed, err)
	}

	w.mu.Lock()
	w.persona = p
	w.state = StateComplete
	w.mu.Unlock()

	log.Info("persona created", "persona_id", p.ID, "voice_id", p.VoiceID)
	return *p, nil
}

// Regenerate discards the draft and preview and returns to Input.
func (w *Workflow) Regenerate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateGenerating, StateCreating, StateComplete:
		return domain.ErrInvalidTransition
	}
	w.state = StateInput
	w.failedStage = ""
	w.description = ""
	w.preview = nil
	w.finalVoice = ""
	return nil
}

func (w *Workflow) fail(stage domain.Stage, kind, err error) error {
	w.mu.Lock()
	w.state = StateFailed
	w.failedStage = stage
	w.mu.Unlock()
	return domain.NewStageError(stage, kind, err)
}

func voiceDescription(d domain.PersonaDraft) string {
	return d.Personality + " " + d.FeedbackStyle
}
