package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

// Pointer fields tell a missing key apart from a zero value.
type rawEmotion struct {
	Name  *string  `json:"name"`
	Score *float64 `json:"score"`
}

type rawMarker struct {
	Name        *string `json:"name"`
	Level       *string `json:"level"`
	Description *string `json:"description"`
}

type rawInsight struct {
	Summary      *string       `json:"summary"`
	Emotions     *[]rawEmotion `json:"emotions"`
	Topics       *[]string     `json:"topics"`
	PsychMarkers *[]rawMarker  `json:"psychMarkers"`
	FeedbackText *string       `json:"feedbackText"`
}

// ParseInsight decodes a model response and validates it against the insight schema.
// Every violation is a *domain.SchemaError.
func ParseInsight(text string) (domain.Insight, error) {
	var raw rawInsight
	if err := decodeStrict(text, &raw); err != nil {
		return domain.Insight{}, err
	}

	switch {
	case raw.Summary == nil:
		return domain.Insight{}, missing("summary")
	case raw.Emotions == nil:
		return domain.Insight{}, missing("emotions")
	case raw.Topics == nil:
		return domain.Insight{}, missing("topics")
	case raw.PsychMarkers == nil:
		return domain.Insight{}, missing("psychMarkers")
	case raw.FeedbackText == nil:
		return domain.Insight{}, missing("feedbackText")
	}

	in := domain.Insight{
		Summary:      strings.TrimSpace(*raw.Summary),
		Topics:       make([]string, 0, len(*raw.Topics)),
		FeedbackText: strings.TrimSpace(*raw.FeedbackText),
	}
	for _, em := range *raw.Emotions {
		if em.Name == nil || em.Score == nil {
			return domain.Insight{}, missing("emotions[].name/score")
		}
		in.Emotions = append(in.Emotions, domain.Emotion{Name: strings.TrimSpace(*em.Name), Score: *em.Score})
	}
	for _, t := range *raw.Topics {
		in.Topics = append(in.Topics, strings.TrimSpace(t))
	}
	for _, m := range *raw.PsychMarkers {
		if m.Name == nil || m.Level == nil || m.Description == nil {
			return domain.Insight{}, missing("psychMarkers[].name/level/description")
		}
		in.PsychMarkers = append(in.PsychMarkers, domain.PsychMarker{
			Name:        strings.TrimSpace(*m.Name),
			Level:       domain.MarkerLevel(strings.ToLower(strings.TrimSpace(*m.Level))),
			Description: strings.TrimSpace(*m.Description),
		})
	}

	if err := in.Validate(); err != nil {
		return domain.Insight{}, err
	}
	return in, nil
}

// ParsePersonaDraft decodes a persona generation response.
func ParsePersonaDraft(text string) (domain.PersonaDraft, error) {
	var d domain.PersonaDraft
	if err := decodeStrict(text, &d); err != nil {
		return domain.PersonaDraft{}, err
	}
	d.Name = strings.TrimSpace(d.Name)
	d.Personality = strings.TrimSpace(d.Personality)
	d.Instruction = strings.TrimSpace(d.Instruction)
	d.FeedbackStyle = strings.TrimSpace(d.FeedbackStyle)

	if err := d.Validate(); err != nil {
		return domain.PersonaDraft{}, err
	}
	return d, nil
}

// decodeStrict decodes exactly one JSON object into v. Unknown keys and trailing
// data are schema errors.
func decodeStrict(text string, v any) error {
	clean := stripCodeFence(text)
	if clean == "" {
		return &domain.SchemaError{Reason: "empty response"}
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.SchemaError{Reason: "invalid JSON: " + err.Error()}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &domain.SchemaError{Reason: "unexpected data after JSON object"}
	}
	return nil
}

// stripCodeFence removes a surrounding ```json fence some models add despite the MIME type.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func missing(field string) error {
	return &domain.SchemaError{Field: field, Reason: "is required"}
}
