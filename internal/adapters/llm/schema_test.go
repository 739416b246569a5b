package llm_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-voice/internal/adapters/llm"
	"github.com/PabloGalante/farum-voice/internal/domain"
)

const validInsight = `{
  "summary": "Work felt heavy.",
  "emotions": [{"name": "overwhelm", "score": 0.9}, {"name": "fatigue", "score": 0.6}],
  "topics": ["work", "boundaries"],
  "psychMarkers": [{"name": "stress load", "level": "High", "description": "Many open tasks."}],
  "feedbackText": "That sounds like a lot to carry."
}`

func TestParseInsight(t *testing.T) {
	in, err := llm.ParseInsight(validInsight)
	require.NoError(t, err)

	assert.Equal(t, "Work felt heavy.", in.Summary)
	assert.Len(t, in.Emotions, 2)
	assert.Equal(t, []string{"work", "boundaries"}, in.Topics)
	assert.Equal(t, domain.MarkerHigh, in.PsychMarkers[0].Level)
	assert.Equal(t, "That sounds like a lot to carry.", in.FeedbackText)
}

func TestParseInsight_CodeFence(t *testing.T) {
	_, err := llm.ParseInsight("```json\n" + validInsight + "\n```")
	assert.NoError(t, err)
}

func TestParseInsight_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"empty", "", ""},
		{"not json", "I think you feel sad", ""},
		{"missing topics", strings.Replace(validInsight, `"topics": ["work", "boundaries"],`, "", 1), "topics"},
		{"missing summary", strings.Replace(validInsight, `"summary": "Work felt heavy.",`, "", 1), "summary"},
		{"score out of range", strings.Replace(validInsight, "0.9", "1.5", 1), "emotions[0].score"},
		{"missing score", strings.Replace(validInsight, `, "score": 0.6`, "", 1), "emotions[].name/score"},
		{"one topic", strings.Replace(validInsight, `["work", "boundaries"]`, `["work"]`, 1), "topics"},
		{"marker without description", strings.Replace(validInsight, `, "description": "Many open tasks."`, "", 1), "psychMarkers[].name/level/description"},
		{"unknown key", strings.Replace(validInsight, `"summary":`, `"mood": "low", "summary":`, 1), ""},
		{"trailing data", validInsight + ` {"summary": "again"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.ParseInsight(tt.input)

			var schemaErr *domain.SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.field, schemaErr.Field)
		})
	}
}

func TestParsePersonaDraft(t *testing.T) {
	d, err := llm.ParsePersonaDraft(`{"name":" Nova ","personality":"curious","instructionText":"ask","feedbackStyle":"brief"}`)
	require.NoError(t, err)
	assert.Equal(t, "Nova", d.Name)

	_, err = llm.ParsePersonaDraft(`{"name":"Nova","personality":"curious","instructionText":"ask"}`)
	var schemaErr *domain.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "feedbackStyle", schemaErr.Field)

	_, err = llm.ParsePersonaDraft(`{"name":"Nova","personality":"curious","instructionText":"ask","feedbackStyle":"brief","voice":"deep"}`)
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Reason, "voice")
}

func TestBuildConversationPrompt(t *testing.T) {
	p := llm.BuildConversationPrompt("Be kind.", domain.ConversationContext{
		Transcript: "I feel overwhelmed at work",
		Emotions:   []string{"overwhelm", "fatigue"},
		Topics:     []string{"work"},
	}, "It got better today")

	assert.Contains(t, p.System, "Be kind.")
	assert.Contains(t, p.System, "I feel overwhelmed at work")
	assert.Contains(t, p.System, "Emotions: overwhelm, fatigue")
	assert.Equal(t, "It got better today", p.User)
}

func TestMockLLMProducesValidInsight(t *testing.T) {
	m := llm.NewMockLLM()

	in, err := m.Analyze(context.Background(), domain.AnalysisRequest{Transcript: "a \"quoted\" day"})
	require.NoError(t, err)
	assert.NoError(t, in.Validate())
	assert.Contains(t, in.Summary, `a "quoted" day`)

	d, err := m.GeneratePersona(context.Background(), "a calm forest ranger")
	require.NoError(t, err)
	assert.Equal(t, "a calm forest ranger", d.Personality)
}
