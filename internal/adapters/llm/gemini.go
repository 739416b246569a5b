package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

// GeminiConfig selects the Gemini API (APIKey set) or Vertex AI (Project + Location).
type GeminiConfig struct {
	APIKey    string
	Project   string
	Location  string
	ModelName string
	Timeout   time.Duration
}

type GeminiClient struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

// NewGeminiClient creates the language-model adapter used for analysis, conversation,
// persona generation and (optionally) transcription.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "" && cfg.Location != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("gemini: either an API key or project and location must be set")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		modelName: cfg.ModelName,
		timeout:   cfg.Timeout,
	}, nil
}

// Analyze implements domain.Analyzer.
func (g *GeminiClient) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.Insight, error) {
	p := BuildAnalysisPrompt(req)

	cfg := g.config(p.System, 0.7)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = insightSchema

	text, err := g.generate(ctx, []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}, cfg)
	if err != nil {
		return domain.Insight{}, err
	}
	return ParseInsight(text)
}

// Reply implements domain.Converser.
func (g *GeminiClient) Reply(
	ctx context.Context,
	instruction string,
	convCtx domain.ConversationContext,
	userText string,
) (string, error) {
	p := BuildConversationPrompt(instruction, convCtx, userText)

	var contents []*genai.Content
	for _, m := range convCtx.History {
		var role genai.Role = genai.RoleUser
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(p.User, genai.RoleUser))

	text, err := g.generate(ctx, contents, g.config(p.System, 0.8))
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &domain.SchemaError{Field: "reply", Reason: "must not be empty"}
	}
	return text, nil
}

// GeneratePersona implements domain.PersonaGenerator.
func (g *GeminiClient) GeneratePersona(ctx context.Context, description string) (domain.PersonaDraft, error) {
	p := BuildPersonaPrompt(description)

	cfg := g.config(p.System, 0.9)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = personaSchema

	text, err := g.generate(ctx, []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}, cfg)
	if err != nil {
		return domain.PersonaDraft{}, err
	}
	return ParsePersonaDraft(text)
}

// Transcribe implements domain.Transcriber using audio understanding.
// An empty transcript is returned as is.
func (g *GeminiClient) Transcribe(ctx context.Context, audio domain.Audio) (string, error) {
	mime := audio.MimeType
	if mime == "" {
		mime = "audio/webm"
	}

	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(transcribePrompt),
		genai.NewPartFromBytes(audio.Data, mime),
	}, genai.RoleUser)

	temp := float32(0)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}

	res, err := g.call(ctx, []*genai.Content{content}, cfg)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text()), nil
}

func (g *GeminiClient) config(system string, temperature float32) *genai.GenerateContentConfig {
	topP := float32(0.9)
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temperature,
		TopP:              &topP,
		MaxOutputTokens:   int32(4096),
	}
}

func (g *GeminiClient) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	res, err := g.call(ctx, contents, cfg)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

func (g *GeminiClient) call(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", upstreamError(err))
	}
	return res, nil
}

// upstreamError exposes the API status and message of a genai failure.
func upstreamError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.UpstreamError{Service: "gemini", Status: apiErr.Code, Message: apiErr.Message}
	}
	return err
}

var insightSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary": {Type: genai.TypeString},
		"emotions": {
			Type:     genai.TypeArray,
			MinItems: genai.Ptr[int64](domain.MinEmotions),
			MaxItems: genai.Ptr[int64](domain.MaxEmotions),
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":  {Type: genai.TypeString},
					"score": {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(1.0)},
				},
				Required: []string{"name", "score"},
			},
		},
		"topics": {
			Type:     genai.TypeArray,
			MinItems: genai.Ptr[int64](domain.MinTopics),
			MaxItems: genai.Ptr[int64](domain.MaxTopics),
			Items:    &genai.Schema{Type: genai.TypeString},
		},
		"psychMarkers": {
			Type:     genai.TypeArray,
			MinItems: genai.Ptr[int64](domain.MinMarkers),
			MaxItems: genai.Ptr[int64](domain.MaxMarkers),
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":        {Type: genai.TypeString},
					"level":       {Type: genai.TypeString, Enum: []string{"low", "medium", "high"}},
					"description": {Type: genai.TypeString},
				},
				Required: []string{"name", "level", "description"},
			},
		},
		"feedbackText": {Type: genai.TypeString},
	},
	Required: []string{"summary", "emotions", "topics", "psychMarkers", "feedbackText"},
}

var personaSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name":            {Type: genai.TypeString},
		"personality":     {Type: genai.TypeString},
		"instructionText": {Type: genai.TypeString},
		"feedbackStyle":   {Type: genai.TypeString},
	},
	Required: []string{"name", "personality", "instructionText", "feedbackStyle"},
}
