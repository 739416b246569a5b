package llm

import (
	"strings"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

const analysisRules = `
You analyse a spoken journal entry that was transcribed to text.

Return ONLY a JSON object with this structure:
{
  "summary": "2-3 sentence summary of what the speaker talked about",
  "emotions": [{"name": "emotion label", "score": 0.0}],
  "topics": ["short topic label"],
  "psychMarkers": [{"name": "marker", "level": "low|medium|high", "description": "one sentence"}],
  "feedbackText": "spoken feedback for the speaker"
}

Rules:
- emotions: 2 to 4 items, score between 0.0 and 1.0.
- topics: 2 to 3 items.
- psychMarkers: 1 to 3 items, level is exactly one of low, medium, high.
- feedbackText is read aloud: no lists, no markdown, under 120 words.
- Answer in the SAME LANGUAGE as the transcript.
- You are NOT a therapist and you do NOT give diagnoses.
- If the transcript is empty or only noise, say so gently in the summary and feedback.
`

const conversationRules = `
You are continuing a spoken conversation about one journal entry.

Rules:
- Reply in 2-3 short sentences that will be read aloud. No lists, no markdown.
- Answer in the SAME LANGUAGE as the user.
- Build on what the user just said and on the original entry.
- Ask at most one gentle follow-up question.
- If the user mentions self-harm or harming someone, encourage them to contact local emergency services or a trusted person.
`

const personaRules = `
You design a companion persona for a voice journaling app from a short description.

Return ONLY a JSON object:
{
  "name": "short display name",
  "personality": "one paragraph describing personality and speaking voice",
  "instructionText": "system-level instructions for how this persona analyses entries and converses",
  "feedbackStyle": "how this persona phrases spoken feedback"
}
`

const transcribePrompt = "Transcribe this audio recording verbatim. Return only the transcript text, nothing else. If nothing is said, return an empty string."

// Prompt represents the system prompt + the content to send as "user".
type Prompt struct {
	System string
	User   string
}

// BuildAnalysisPrompt combines the persona guidance with the fixed analysis schema.
func BuildAnalysisPrompt(req domain.AnalysisRequest) Prompt {
	var system strings.Builder
	system.WriteString(strings.TrimSpace(req.Instruction))
	system.WriteString("\n")
	if req.FeedbackStyle != "" {
		system.WriteString("\nFeedback style:\n")
		system.WriteString(strings.TrimSpace(req.FeedbackStyle))
		system.WriteString("\n")
	}
	system.WriteString(analysisRules)

	return Prompt{
		System: system.String(),
		User:   "Transcript:\n" + req.Transcript,
	}
}

// BuildConversationPrompt builds the system prompt from the persona and the anchored entry.
// History is sent separately as chat turns.
func BuildConversationPrompt(instruction string, ctx domain.ConversationContext, userText string) Prompt {
	var system strings.Builder
	system.WriteString(strings.TrimSpace(instruction))
	system.WriteString("\n")
	system.WriteString(conversationRules)
	system.WriteString("\nOriginal journal entry:\n")
	system.WriteString(ctx.Transcript)
	if len(ctx.Emotions) > 0 {
		system.WriteString("\nEmotions: ")
		system.WriteString(strings.Join(ctx.Emotions, ", "))
	}
	if len(ctx.Topics) > 0 {
		system.WriteString("\nTopics: ")
		system.WriteString(strings.Join(ctx.Topics, ", "))
	}

	return Prompt{
		System: system.String(),
		User:   userText,
	}
}

// BuildPersonaPrompt asks for a persona from a free-text description.
func BuildPersonaPrompt(description string) Prompt {
	return Prompt{
		System: personaRules,
		User:   "Description:\n" + description,
	}
}
