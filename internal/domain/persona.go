package domain

// Persona is a named analytical and conversational style bound to a synthesized voice.
type Persona struct {
	ID            PersonaID `json:"id"`
	Name          string    `json:"name"`
	Personality   string    `json:"personality"`
	Instruction   string    `json:"instruction"`
	FeedbackStyle string    `json:"feedback_style"`
	VoiceID       VoiceID   `json:"voice_id"`
	CreatedAt     Timestamp `json:"created_at"`
	Custom        bool      `json:"custom"`
}

// PersonaDraft holds the generated fields of a persona before it has a voice.
type PersonaDraft struct {
	Name          string `json:"name"`
	Personality   string `json:"personality"`
	Instruction   string `json:"instructionText"`
	FeedbackStyle string `json:"feedbackStyle"`
}

func (d PersonaDraft) Validate() error {
	switch {
	case d.Name == "":
		return &SchemaError{Field: "name", Reason: "must not be empty"}
	case d.Personality == "":
		return &SchemaError{Field: "personality", Reason: "must not be empty"}
	case d.Instruction == "":
		return &SchemaError{Field: "instructionText", Reason: "must not be empty"}
	case d.FeedbackStyle == "":
		return &SchemaError{Field: "feedbackStyle", Reason: "must not be empty"}
	}
	return nil
}

// VoicePreview is a generated, not yet permanent, voice.
type VoicePreview struct {
	VoiceID VoiceID
	Audio   Audio
}

type selectionKind int

const (
	selectBuiltIn selectionKind = iota + 1
	selectCustom
)

// VoiceSelection is either a built-in persona picked by voice id or a custom persona picked by id.
type VoiceSelection struct {
	kind      selectionKind
	voiceID   VoiceID
	personaID PersonaID
}

func BuiltIn(voice VoiceID) VoiceSelection {
	return VoiceSelection{kind: selectBuiltIn, voiceID: voice}
}

func Custom(id PersonaID) VoiceSelection {
	return VoiceSelection{kind: selectCustom, personaID: id}
}

func (s VoiceSelection) IsBuiltIn() bool { return s.kind == selectBuiltIn }
func (s VoiceSelection) IsCustom() bool  { return s.kind == selectCustom }
func (s VoiceSelection) IsZero() bool    { return s.kind == 0 }

func (s VoiceSelection) VoiceID() VoiceID     { return s.voiceID }
func (s VoiceSelection) PersonaID() PersonaID { return s.personaID }

func (s VoiceSelection) String() string {
	switch s.kind {
	case selectBuiltIn:
		return "builtin:" + string(s.voiceID)
	case selectCustom:
		return "custom:" + string(s.personaID)
	}
	return "none"
}

// ResolvedPersona is the concrete instruction and voice pair used for one invocation.
type ResolvedPersona struct {
	PersonaID     PersonaID
	Name          string
	Instruction   string
	FeedbackStyle string
	VoiceID       VoiceID
	// Fallback is set when the selection did not resolve and generic guidance was used.
	Fallback bool
}
