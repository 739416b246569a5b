package domain

// MarkerLevel is the severity of a psychological marker. The ordering is for display only.
type MarkerLevel string

const (
	MarkerLow    MarkerLevel = "low"
	MarkerMedium MarkerLevel = "medium"
	MarkerHigh   MarkerLevel = "high"
)

func (l MarkerLevel) Valid() bool {
	switch l {
	case MarkerLow, MarkerMedium, MarkerHigh:
		return true
	}
	return false
}

// Emotion is a free-form label scored in [0, 1]. Duplicate names are tolerated.
type Emotion struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type PsychMarker struct {
	Name        string      `json:"name"`
	Level       MarkerLevel `json:"level"`
	Description string      `json:"description"`
}

// ConversationTurn is one utterance in the dialogue that extends an entry.
type ConversationTurn struct {
	ID        TurnID    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Audio     AudioRef  `json:"audio,omitempty"`
	CreatedAt Timestamp `json:"created_at"`
}

// JournalEntry is the persisted insight produced from one recording.
type JournalEntry struct {
	ID        EntryID   `json:"id"`
	CreatedAt Timestamp `json:"created_at"`

	Transcript   string        `json:"transcript"`
	Summary      string        `json:"summary"`
	Emotions     []Emotion     `json:"emotions"`
	Topics       []string      `json:"topics"`
	PsychMarkers []PsychMarker `json:"psych_markers"`

	FeedbackText  string   `json:"feedback_text"`
	FeedbackAudio AudioRef `json:"feedback_audio,omitempty"`
	Recording     AudioRef `json:"recording,omitempty"`

	// Snapshot of the persona that produced the entry.
	VoiceID     VoiceID   `json:"voice_id"`
	PersonaID   PersonaID `json:"persona_id,omitempty"`
	PersonaName string    `json:"persona_name,omitempty"`

	// Append-only.
	Conversation []ConversationTurn `json:"conversation"`
}

// EmotionNames returns the emotion labels in order.
func (e *JournalEntry) EmotionNames() []string {
	out := make([]string, 0, len(e.Emotions))
	for _, em := range e.Emotions {
		out = append(out, em.Name)
	}
	return out
}

// Clone returns a deep copy so callers can modify it without touching stored state.
func (e *JournalEntry) Clone() *JournalEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Emotions = append([]Emotion(nil), e.Emotions...)
	c.Topics = append([]string(nil), e.Topics...)
	c.PsychMarkers = append([]PsychMarker(nil), e.PsychMarkers...)
	c.Conversation = append([]ConversationTurn(nil), e.Conversation...)
	return &c
}

// Insight is the structured result of the analysis capability.
type Insight struct {
	Summary      string        `json:"summary"`
	Emotions     []Emotion     `json:"emotions"`
	Topics       []string      `json:"topics"`
	PsychMarkers []PsychMarker `json:"psychMarkers"`
	FeedbackText string        `json:"feedbackText"`
}

// Bounds of the insight schema.
const (
	MinEmotions = 2
	MaxEmotions = 4
	MinTopics   = 2
	MaxTopics   = 3
	MinMarkers  = 1
	MaxMarkers  = 3
)

// Validate checks the insight against the fixed schema. It never coerces.
func (in Insight) Validate() error {
	if in.FeedbackText == "" {
		return &SchemaError{Field: "feedbackText", Reason: "must not be empty"}
	}
	if n := len(in.Emotions); n < MinEmotions || n > MaxEmotions {
		return &SchemaError{Field: "emotions", Reason: countReason(n, MinEmotions, MaxEmotions)}
	}
	for i, em := range in.Emotions {
		if em.Name == "" {
			return &SchemaError{Field: fieldAt("emotions", i, "name"), Reason: "must not be empty"}
		}
		if em.Score < 0 || em.Score > 1 {
			return &SchemaError{Field: fieldAt("emotions", i, "score"), Reason: "must be within [0, 1]"}
		}
	}
	if n := len(in.Topics); n < MinTopics || n > MaxTopics {
		return &SchemaError{Field: "topics", Reason: countReason(n, MinTopics, MaxTopics)}
	}
	for i, t := range in.Topics {
		if t == "" {
			return &SchemaError{Field: fieldAt("topics", i, ""), Reason: "must not be empty"}
		}
	}
	if n := len(in.PsychMarkers); n < MinMarkers || n > MaxMarkers {
		return &SchemaError{Field: "psychMarkers", Reason: countReason(n, MinMarkers, MaxMarkers)}
	}
	for i, m := range in.PsychMarkers {
		if m.Name == "" {
			return &SchemaError{Field: fieldAt("psychMarkers", i, "name"), Reason: "must not be empty"}
		}
		if !m.Level.Valid() {
			return &SchemaError{Field: fieldAt("psychMarkers", i, "level"), Reason: "must be low, medium or high"}
		}
		if m.Description == "" {
			return &SchemaError{Field: fieldAt("psychMarkers", i, "description"), Reason: "must not be empty"}
		}
	}
	return nil
}
