package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

const (
	StorageMemory    = "memory"
	StorageFirestore = "firestore"
	StorageSQLite    = "sqlite"

	TranscriberElevenLabs = "elevenlabs"
	TranscriberGemini     = "gemini"
)

type Config struct {
	Mode     Mode   `yaml:"mode"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	GCPProjectID string `yaml:"gcp_project"`
	GCPLocation  string `yaml:"gcp_location"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	ModelName    string `yaml:"model_name"`

	Transcriber       string        `yaml:"transcriber"` // "elevenlabs" or "gemini"
	ElevenLabsAPIKey  string        `yaml:"elevenlabs_api_key"`
	ElevenLabsBaseURL string        `yaml:"elevenlabs_base_url"`
	TTSModel          string        `yaml:"tts_model"`
	STTModel          string        `yaml:"stt_model"`
	AdapterTimeout    time.Duration `yaml:"adapter_timeout"`

	StorageBackend string `yaml:"storage_backend"` // "memory", "firestore" or "sqlite"
	SQLitePath     string `yaml:"sqlite_path"`

	UseMockLLM    bool `yaml:"use_mock_llm"`    // true = use mock even on GCP
	UseMockSpeech bool `yaml:"use_mock_speech"` // true = no ElevenLabs calls

	FreeEntryLimit int    `yaml:"free_entry_limit"` // 0 = premium only
	JWTSecret      string `yaml:"jwt_secret"`
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// defaults returns the configuration used when nothing is set.
func defaults() *Config {
	return &Config{
		Mode:              ModeLocal,
		Port:              "8080",
		LogLevel:          "info",
		GCPLocation:       "us-central1",
		ModelName:         "gemini-2.5-flash",
		Transcriber:       TranscriberElevenLabs,
		ElevenLabsBaseURL: "https://api.elevenlabs.io",
		TTSModel:          "eleven_multilingual_v2",
		STTModel:          "scribe_v1",
		AdapterTimeout:    60 * time.Second,
		StorageBackend:    StorageMemory,
		SQLitePath:        "./data/farum-voice.db",
		FreeEntryLimit:    3,
	}
}

// Load reads the optional YAML file named by FARUM_CONFIG, then env vars on top.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("FARUM_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Mode = Mode(getEnv("FARUM_MODE", string(cfg.Mode)))
	if cfg.Mode != ModeGCP {
		cfg.Mode = ModeLocal
	}

	cfg.Port = getEnv("FARUM_PORT", cfg.Port)
	cfg.LogLevel = getEnv("FARUM_LOG_LEVEL", cfg.LogLevel)

	cfg.GCPProjectID = getEnv("FARUM_GCP_PROJECT", cfg.GCPProjectID)
	cfg.GCPLocation = getEnv("FARUM_GCP_LOCATION", cfg.GCPLocation)
	cfg.GeminiAPIKey = getEnv("FARUM_GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.ModelName = getEnv("FARUM_MODEL_NAME", cfg.ModelName)

	cfg.Transcriber = getEnv("FARUM_TRANSCRIBER", cfg.Transcriber)
	cfg.ElevenLabsAPIKey = getEnv("FARUM_ELEVENLABS_API_KEY", cfg.ElevenLabsAPIKey)
	cfg.ElevenLabsBaseURL = getEnv("FARUM_ELEVENLABS_BASE_URL", cfg.ElevenLabsBaseURL)
	cfg.TTSModel = getEnv("FARUM_TTS_MODEL", cfg.TTSModel)
	cfg.STTModel = getEnv("FARUM_STT_MODEL", cfg.STTModel)
	cfg.AdapterTimeout = getDurationEnv("FARUM_ADAPTER_TIMEOUT", cfg.AdapterTimeout)

	cfg.StorageBackend = getEnv("FARUM_STORAGE_BACKEND", cfg.StorageBackend)
	cfg.SQLitePath = getEnv("FARUM_SQLITE_PATH", cfg.SQLitePath)

	cfg.UseMockLLM = getBoolEnv("FARUM_USE_MOCK_LLM", cfg.UseMockLLM || (cfg.Mode == ModeLocal && cfg.GeminiAPIKey == ""))
	cfg.UseMockSpeech = getBoolEnv("FARUM_USE_MOCK_SPEECH", cfg.UseMockSpeech || cfg.ElevenLabsAPIKey == "")

	cfg.FreeEntryLimit = getIntEnv("FARUM_FREE_ENTRY_LIMIT", cfg.FreeEntryLimit)
	cfg.JWTSecret = getEnv("FARUM_JWT_SECRET", cfg.JWTSecret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config file: %w", err)
	}

	// Secrets may reference env vars, e.g. "${ELEVENLABS_API_KEY}".
	cfg.GeminiAPIKey = os.ExpandEnv(cfg.GeminiAPIKey)
	cfg.ElevenLabsAPIKey = os.ExpandEnv(cfg.ElevenLabsAPIKey)
	cfg.JWTSecret = os.ExpandEnv(cfg.JWTSecret)
	return nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	if c.Mode == ModeGCP && c.GCPProjectID == "" {
		return fmt.Errorf("FARUM_GCP_PROJECT must be set in gcp mode")
	}
	switch c.StorageBackend {
	case StorageMemory:
	case StorageFirestore:
		if c.GCPProjectID == "" {
			return fmt.Errorf("FARUM_GCP_PROJECT is required for the firestore storage backend")
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("FARUM_SQLITE_PATH is required for the sqlite storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	switch c.Transcriber {
	case TranscriberElevenLabs, TranscriberGemini:
	default:
		return fmt.Errorf("unknown transcriber %q", c.Transcriber)
	}
	if !c.UseMockLLM && c.Mode == ModeLocal && c.GeminiAPIKey == "" {
		return fmt.Errorf("FARUM_GEMINI_API_KEY is required in local mode without the mock LLM")
	}
	if c.FreeEntryLimit < 0 {
		return fmt.Errorf("free entry limit must not be negative")
	}
	return nil
}
