package persona

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

// DefaultInstruction is used when a selection does not resolve to any persona.
const DefaultInstruction = `
You are "Farum", an empathetic analyst for a voice journal.
You listen without judgment, name the emotions you hear, notice recurring themes,
and reflect them back with warmth. You are NOT a therapist and you do not diagnose.
`

const DefaultFeedbackStyle = "Warm and calm. Reflect back what you heard, then offer one small, realistic next step."

// Voice ids of the built-in personas.
const (
	VoiceSage   domain.VoiceID = "21m00Tcm4TlvDq8ikWAM"
	VoiceSpark  domain.VoiceID = "EXAVITQu4vr4xnSDxMaL"
	VoiceHarbor domain.VoiceID = "pNInz6obpgDQGcFmaJgB"
)

var builtIns = []domain.Persona{
	{
		ID:          "builtin-sage",
		Name:        "Sage",
		Personality: "Calm, reflective and unhurried. Speaks softly and leaves room for silence.",
		Instruction: `You are Sage, a reflective journaling companion.
Help the speaker slow down and notice patterns in what they feel and think.
Prefer questions that invite reflection over advice.`,
		FeedbackStyle: "Gentle and spacious. Short sentences, one reflective question at the end.",
		VoiceID:       VoiceSage,
	},
	{
		ID:          "builtin-spark",
		Name:        "Spark",
		Personality: "Energetic, encouraging coach who celebrates small wins.",
		Instruction: `You are Spark, an upbeat coach.
Acknowledge feelings briefly, then focus on strengths and one concrete action the speaker can take today.`,
		FeedbackStyle: "Lively and motivating. Name one strength you noticed and one tiny next step.",
		VoiceID:       VoiceSpark,
	},
	{
		ID:          "builtin-harbor",
		Name:        "Harbor",
		Personality: "Warm, steady and grounding, like a trusted friend.",
		Instruction: `You are Harbor, a grounding presence.
Validate what the speaker feels, normalise it, and suggest simple ways to feel safer and calmer.`,
		FeedbackStyle: "Warm and reassuring. Validate first, then offer one grounding suggestion.",
		VoiceID:       VoiceHarbor,
	},
}

// BuiltIns returns the process-wide built-in personas. The first one is the default.
func BuiltIns() []domain.Persona {
	return append([]domain.Persona(nil), builtIns...)
}

// DefaultVoice is the voice used when a selection does not resolve.
func DefaultVoice() domain.VoiceID {
	return builtIns[0].VoiceID
}

// Registry holds built-in personas and the custom personas of each identity.
type Registry struct {
	store domain.PersonaStore
	mu    sync.Mutex
}

func NewRegistry(store domain.PersonaStore) *Registry {
	return &Registry{store: store}
}

// Custom returns the identity's custom personas, oldest first.
func (r *Registry) Custom(ctx context.Context, id domain.Identity) ([]*domain.Persona, error) {
	personas, err := r.store.LoadPersonas(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	return personas, nil
}

// List returns built-ins followed by the identity's custom personas.
func (r *Registry) List(ctx context.Context, id domain.Identity) ([]domain.Persona, error) {
	custom, err := r.Custom(ctx, id)
	if err != nil {
		return nil, err
	}

	out := BuiltIns()
	for _, p := range custom {
		out = append(out, *p)
	}
	return out, nil
}

// Get finds a built-in or custom persona by id.
func (r *Registry) Get(ctx context.Context, id domain.Identity, personaID domain.PersonaID) (domain.Persona, error) {
	for _, p := range builtIns {
		if p.ID == personaID {
			return p, nil
		}
	}

	custom, err := r.Custom(ctx, id)
	if err != nil {
		return domain.Persona{}, err
	}
	for _, p := range custom {
		if p.ID == personaID {
			return *p, nil
		}
	}
	return domain.Persona{}, domain.ErrPersonaNotFound
}

// Resolve turns a selection into a concrete instruction and voice. Unknown selections
// resolve to the generic instruction with the default voice; only store failures error.
func (r *Registry) Resolve(ctx context.Context, id domain.Identity, sel domain.VoiceSelection) (domain.ResolvedPersona, error) {
	switch {
	case sel.IsBuiltIn():
		for _, p := range builtIns {
			if p.VoiceID == sel.VoiceID() {
				return resolved(p), nil
			}
		}
		// Older callers pass a custom persona's voice as the selection.
		custom, err := r.Custom(ctx, id)
		if err != nil {
			return domain.ResolvedPersona{}, err
		}
		for _, p := range custom {
			if p.VoiceID == sel.VoiceID() {
				return resolved(*p), nil
			}
		}

	case sel.IsCustom():
		custom, err := r.Custom(ctx, id)
		if err != nil {
			return domain.ResolvedPersona{}, err
		}
		for _, p := range custom {
			if p.ID == sel.PersonaID() {
				return resolved(*p), nil
			}
		}
	}

	return fallback(), nil
}

// Add persists a new custom persona. It is the only way a persona enters the registry.
func (r *Registry) Add(ctx context.Context, id domain.Identity, p *domain.Persona) error {
	if !p.Custom {
		return domain.ErrBuiltInPersona
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	custom, err := r.Custom(ctx, id)
	if err != nil {
		return err
	}
	custom = append(custom, p)

	if err := r.store.SavePersonas(ctx, id, custom); err != nil {
		return fmt.Errorf("save personas: %w", err)
	}
	return nil
}

// Delete removes a custom persona. Entries created with it keep their snapshot.
func (r *Registry) Delete(ctx context.Context, id domain.Identity, personaID domain.PersonaID) error {
	for _, p := range builtIns {
		if p.ID == personaID {
			return domain.ErrBuiltInPersona
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	custom, err := r.Custom(ctx, id)
	if err != nil {
		return err
	}

	kept := custom[:0]
	found := false
	for _, p := range custom {
		if p.ID == personaID {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return domain.ErrPersonaNotFound
	}

	if err := r.store.SavePersonas(ctx, id, kept); err != nil {
		return fmt.Errorf("save personas: %w", err)
	}
	return nil
}

// SelectionFor rebuilds the selection an entry was created with.
func SelectionFor(e *domain.JournalEntry) domain.VoiceSelection {
	if e.PersonaID != "" && !isBuiltInID(e.PersonaID) {
		return domain.Custom(e.PersonaID)
	}
	return domain.BuiltIn(e.VoiceID)
}

func isBuiltInID(id domain.PersonaID) bool {
	for _, p := range builtIns {
		if p.ID == id {
			return true
		}
	}
	return false
}

func resolved(p domain.Persona) domain.ResolvedPersona {
	return domain.ResolvedPersona{
		PersonaID:     p.ID,
		Name:          p.Name,
		Instruction:   p.Instruction,
		FeedbackStyle: p.FeedbackStyle,
		VoiceID:       p.VoiceID,
	}
}

func fallback() domain.ResolvedPersona {
	return domain.ResolvedPersona{
		Name:          "Farum",
		Instruction:   DefaultInstruction,
		FeedbackStyle: DefaultFeedbackStyle,
		VoiceID:       DefaultVoice(),
		Fallback:      true,
	}
}
