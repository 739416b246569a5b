package domain

import "context"

// Transcriber wraps the speech-to-text capability.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// AnalysisRequest carries the transcript and the persona guidance for one analysis.
type AnalysisRequest struct {
	Transcript    string
	Instruction   string
	FeedbackStyle string
}

// Analyzer wraps the language model that turns a transcript into an Insight.
// Implementations must return a *SchemaError for responses that violate the schema.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (Insight, error)
}

// Converser is the conversational variant of the analysis capability.
type Converser interface {
	Reply(ctx context.Context, instruction string, convCtx ConversationContext, userText string) (string, error)
}

// Synthesizer wraps text-to-speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceID) (Audio, error)
}

// PersonaGenerator turns a free-text description into persona fields.
type PersonaGenerator interface {
	GeneratePersona(ctx context.Context, description string) (PersonaDraft, error)
}

// VoiceDesigner designs preview voices from a description and makes them permanent.
type VoiceDesigner interface {
	DesignVoice(ctx context.Context, description, sampleText string) (VoicePreview, error)
	FinalizeVoice(ctx context.Context, preview VoiceID, name, description string) (VoiceID, error)
}

// EntryStore persists the entry collection of an identity. Saves replace the whole collection.
type EntryStore interface {
	LoadEntries(ctx context.Context, id Identity) ([]*JournalEntry, error)
	SaveEntries(ctx context.Context, id Identity, entries []*JournalEntry) error
}

// PersonaStore persists the custom personas of an identity. Saves replace the whole collection.
type PersonaStore interface {
	LoadPersonas(ctx context.Context, id Identity) ([]*Persona, error)
	SavePersonas(ctx context.Context, id Identity, personas []*Persona) error
}

// EntitlementStore persists one EntitlementState per identity.
type EntitlementStore interface {
	LoadEntitlement(ctx context.Context, id Identity) (EntitlementState, error)
	SaveEntitlement(ctx context.Context, id Identity, state EntitlementState) error
}

// AudioStore keeps recorded and synthesized audio referenced from entries.
// DeleteAudio of an unknown ref is not an error.
type AudioStore interface {
	PutAudio(ctx context.Context, id Identity, audio Audio) (AudioRef, error)
	GetAudio(ctx context.Context, id Identity, ref AudioRef) (Audio, error)
	DeleteAudio(ctx context.Context, id Identity, ref AudioRef) error
}
