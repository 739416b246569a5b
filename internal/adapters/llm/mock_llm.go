package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

// MockLLM is a deterministic stand-in for Gemini in local mode.
// Its canned responses go through the same parsers as real ones.
type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

const mockInsightJSON = `{
  "summary": %q,
  "emotions": [{"name": "stress", "score": 0.7}, {"name": "hope", "score": 0.4}],
  "topics": ["work", "rest"],
  "psychMarkers": [{"name": "rumination", "level": "medium", "description": "Keeps returning to the same worry."}],
  "feedbackText": "Thank you for sharing this. It sounds like a lot is on your mind, and naming it is a good first step."
}`

func (m *MockLLM) Analyze(_ context.Context, req domain.AnalysisRequest) (domain.Insight, error) {
	summary := "You recorded a short reflection."
	if t := strings.TrimSpace(req.Transcript); t != "" {
		summary = "You talked about: " + t
	}
	return ParseInsight(fmt.Sprintf(mockInsightJSON, summary))
}

func (m *MockLLM) Reply(_ context.Context, _ string, _ domain.ConversationContext, userText string) (string, error) {
	return fmt.Sprintf("I hear you. You said %q. What feels most important about that right now?", userText), nil
}

func (m *MockLLM) GeneratePersona(_ context.Context, description string) (domain.PersonaDraft, error) {
	raw := fmt.Sprintf(`{
  "name": "Custom Guide",
  "personality": %q,
  "instructionText": "You are a supportive journaling companion. Reflect feelings back and stay practical.",
  "feedbackStyle": "Warm, short sentences with one concrete suggestion."
}`, strings.TrimSpace(description))
	return ParsePersonaDraft(raw)
}

func (m *MockLLM) Transcribe(_ context.Context, audio domain.Audio) (string, error) {
	return fmt.Sprintf("mock transcript of %d bytes", len(audio.Data)), nil
}
