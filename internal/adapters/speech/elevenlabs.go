package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

// ElevenLabs client for speech-to-text, text-to-speech and voice design.
type ElevenLabs struct {
	apiKey     string
	baseURL    string
	ttsModel   string
	sttModel   string
	httpClient *http.Client
}

// Config for the ElevenLabs client
type Config struct {
	APIKey   string
	BaseURL  string        // Default: "https://api.elevenlabs.io"
	TTSModel string        // Default: "eleven_multilingual_v2"
	STTModel string        // Default: "scribe_v1"
	Timeout  time.Duration // Default: 60s
}

func NewElevenLabs(cfg Config) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "eleven_multilingual_v2"
	}
	if cfg.STTModel == "" {
		cfg.STTModel = "scribe_v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &ElevenLabs{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		ttsModel:   cfg.TTSModel,
		sttModel:   cfg.STTModel,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type sttResponse struct {
	Text string `json:"text"`
}

type designRequest struct {
	VoiceDescription string `json:"voice_description"`
	Text             string `json:"text"`
}

type designResponse struct {
	Previews []struct {
		AudioBase64      string `json:"audio_base_64"`
		GeneratedVoiceID string `json:"generated_voice_id"`
		MediaType        string `json:"media_type"`
	} `json:"previews"`
}

type createVoiceRequest struct {
	VoiceName        string `json:"voice_name"`
	VoiceDescription string `json:"voice_description"`
	GeneratedVoiceID string `json:"generated_voice_id"`
}

type createVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

// Transcribe implements domain.Transcriber.
func (c *ElevenLabs) Transcribe(ctx context.Context, audio domain.Audio) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model_id", c.sttModel); err != nil {
		return "", fmt.Errorf("write model_id: %w", err)
	}
	part, err := w.CreateFormFile("file", "recording"+extension(audio.MimeType))
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	respBody, _, err := c.do(ctx, http.MethodPost, "/v1/speech-to-text", w.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}

	var resp sttResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize implements domain.Synthesizer.
func (c *ElevenLabs) Synthesize(ctx context.Context, text string, voice domain.VoiceID) (domain.Audio, error) {
	if voice == "" {
		return domain.Audio{}, fmt.Errorf("voice id is required")
	}
	payload, err := json.Marshal(ttsRequest{Text: text, ModelID: c.ttsModel})
	if err != nil {
		return domain.Audio{}, fmt.Errorf("marshal request: %w", err)
	}

	path := "/v1/text-to-speech/" + url.PathEscape(string(voice))
	data, contentType, err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return domain.Audio{}, err
	}
	if len(data) == 0 {
		return domain.Audio{}, fmt.Errorf("elevenlabs returned empty audio")
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return domain.Audio{Data: data, MimeType: contentType}, nil
}

// DesignVoice implements domain.VoiceDesigner. The first preview is used.
func (c *ElevenLabs) DesignVoice(ctx context.Context, description, sampleText string) (domain.VoicePreview, error) {
	payload, err := json.Marshal(designRequest{VoiceDescription: description, Text: sampleText})
	if err != nil {
		return domain.VoicePreview{}, fmt.Errorf("marshal request: %w", err)
	}

	data, _, err := c.do(ctx, http.MethodPost, "/v1/text-to-voice/create-previews", "application/json", bytes.NewReader(payload))
	if err != nil {
		return domain.VoicePreview{}, err
	}

	var resp designResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.VoicePreview{}, fmt.Errorf("decode previews: %w", err)
	}
	if len(resp.Previews) == 0 || resp.Previews[0].GeneratedVoiceID == "" {
		return domain.VoicePreview{}, fmt.Errorf("elevenlabs returned no voice previews")
	}

	first := resp.Previews[0]
	audio, err := base64.StdEncoding.DecodeString(first.AudioBase64)
	if err != nil {
		return domain.VoicePreview{}, fmt.Errorf("decode preview audio: %w", err)
	}
	mime := first.MediaType
	if mime == "" {
		mime = "audio/mpeg"
	}

	return domain.VoicePreview{
		VoiceID: domain.VoiceID(first.GeneratedVoiceID),
		Audio:   domain.Audio{Data: audio, MimeType: mime},
	}, nil
}

// FinalizeVoice implements domain.VoiceDesigner.
func (c *ElevenLabs) FinalizeVoice(ctx context.Context, preview domain.VoiceID, name, description string) (domain.VoiceID, error) {
	payload, err := json.Marshal(createVoiceRequest{
		VoiceName:        name,
		VoiceDescription: description,
		GeneratedVoiceID: string(preview),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	data, _, err := c.do(ctx, http.MethodPost, "/v1/text-to-voice/create-voice-from-preview", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var resp createVoiceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode voice: %w", err)
	}
	if resp.VoiceID == "" {
		return "", fmt.Errorf("elevenlabs returned an empty voice id")
	}
	return domain.VoiceID(resp.VoiceID), nil
}

// do sends one request and returns the body. Non-2xx responses become *domain.UpstreamError
// carrying the status and the body verbatim.
func (c *ElevenLabs) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &domain.UpstreamError{
			Service: "elevenlabs",
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(data)),
		}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func extension(mime string) string {
	switch {
	case strings.Contains(mime, "webm"):
		return ".webm"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return ".m4a"
	case strings.Contains(mime, "wav"):
		return ".wav"
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ".mp3"
	}
	return ""
}
