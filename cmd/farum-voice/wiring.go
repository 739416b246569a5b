package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PabloGalante/farum-voice/internal/adapters/llm"
	"github.com/PabloGalante/farum-voice/internal/adapters/speech"
	firestorestore "github.com/PabloGalante/farum-voice/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/farum-voice/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/farum-voice/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/farum-voice/internal/app/conversation"
	"github.com/PabloGalante/farum-voice/internal/app/entitlement"
	"github.com/PabloGalante/farum-voice/internal/app/insight"
	"github.com/PabloGalante/farum-voice/internal/app/journal"
	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/config"
	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

type stores struct {
	entries     domain.EntryStore
	personas    domain.PersonaStore
	entitlement domain.EntitlementStore
	audio       domain.AudioStore
}

type languageModel interface {
	domain.Analyzer
	domain.Converser
	domain.PersonaGenerator
	domain.Transcriber
}

type voiceService interface {
	domain.Transcriber
	domain.Synthesizer
	domain.VoiceDesigner
}

// app holds every wired service for one process.
type app struct {
	cfg *config.Config

	journal      *journal.Service
	registry     *persona.Registry
	gate         *entitlement.Gate
	pipeline     *insight.Pipeline
	conversation *conversation.Service
	audio        domain.AudioStore
	newWorkflow  func() *persona.Workflow

	closers []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			observability.Logger().Warn("close failed", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := observability.Logger()
	a := &app{cfg: cfg}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	// Language model: mock or Gemini
	var model languageModel
	if cfg.UseMockLLM {
		log.Info("using mock language model")
		model = llm.NewMockLLM()
	} else {
		log.Info("using gemini language model", "model", cfg.ModelName, "mode", cfg.Mode)
		gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			Project:   cfg.GCPProjectID,
			Location:  cfg.GCPLocation,
			ModelName: cfg.ModelName,
			Timeout:   cfg.AdapterTimeout,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init gemini: %w", err)
		}
		model = gemini
	}

	// Speech: mock or ElevenLabs
	var voice voiceService
	if cfg.UseMockSpeech {
		log.Info("using mock speech")
		voice = speech.NewMock()
	} else {
		log.Info("using elevenlabs speech", "tts_model", cfg.TTSModel, "stt_model", cfg.STTModel)
		el, err := speech.NewElevenLabs(speech.Config{
			APIKey:   cfg.ElevenLabsAPIKey,
			BaseURL:  cfg.ElevenLabsBaseURL,
			TTSModel: cfg.TTSModel,
			STTModel: cfg.STTModel,
			Timeout:  cfg.AdapterTimeout,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init elevenlabs: %w", err)
		}
		voice = el
	}

	var transcriber domain.Transcriber = voice
	if cfg.Transcriber == config.TranscriberGemini {
		transcriber = model
	}

	a.audio = st.audio
	a.journal = journal.NewService(st.entries)
	a.registry = persona.NewRegistry(st.personas)
	a.gate = entitlement.NewGate(st.entitlement, cfg.FreeEntryLimit)

	a.pipeline = insight.NewPipeline(insight.Deps{
		Transcriber: transcriber,
		Analyzer:    model,
		Synthesizer: voice,
		Personas:    a.registry,
		Entries:     a.journal,
		Audio:       st.audio,
		Usage:       a.gate,
	})

	a.conversation = conversation.NewService(conversation.Deps{
		Transcriber: transcriber,
		Converser:   model,
		Synthesizer: voice,
		Entries:     a.journal,
		Personas:    a.registry,
		Audio:       st.audio,
	})

	a.newWorkflow = func() *persona.Workflow {
		return persona.NewWorkflow(model, voice, a.registry)
	}

	return a, nil
}

func (a *app) openStores(ctx context.Context) (stores, error) {
	log := observability.Logger()
	cfg := a.cfg

	switch cfg.StorageBackend {
	case config.StorageFirestore:
		log.Info("using firestore storage", "project", cfg.GCPProjectID)
		fs, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return stores{}, fmt.Errorf("init firestore: %w", err)
		}
		a.closers = append(a.closers, fs.Close)
		// 1 store, implements 4 interfaces
		return stores{entries: fs, personas: fs, entitlement: fs, audio: fs}, nil

	case config.StorageSQLite:
		log.Info("using sqlite storage", "path", cfg.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return stores{}, fmt.Errorf("create db dir: %w", err)
		}
		db, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return stores{}, fmt.Errorf("init sqlite: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return stores{entries: db, personas: db, entitlement: db, audio: db}, nil

	default:
		log.Info("using in-memory storage")
		return stores{
			entries:     memstore.NewEntryStore(),
			personas:    memstore.NewPersonaStore(),
			entitlement: memstore.NewEntitlementStore(),
			audio:       memstore.NewAudioStore(),
		}, nil
	}
}
