package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/chatstore/internal/cache"
	"github.com/DatanoiseTV/chatstore/internal/cloudsync"
	"github.com/DatanoiseTV/chatstore/internal/llm"
	"github.com/DatanoiseTV/chatstore/internal/remote"
	"github.com/DatanoiseTV/chatstore/internal/store"
)

// App is the application context built once at startup and handed to the
// commands and tool handlers.
type App struct {
	cfg    *Config
	logger zerolog.Logger

	conversations *store.ConversationStore
	attachments   *store.AttachmentStore
	agents        *store.AgentStore
	cache         *cache.Cache

	remote *remote.BadgerStore // nil when the record database is unavailable
	sync   *cloudsync.Manager  // nil when remote is nil

	completer llm.Completer     // nil without an API key
	analyzer  llm.ImageAnalyzer // nil without an API key

	// Conversation the interactive mode is working in.
	current int
}

// NewApp wires the stores, cache, sync manager and model clients. Storage,
// sync and model failures degrade the app instead of failing startup.
func NewApp(ctx context.Context, cfg *Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		cfg:           cfg,
		logger:        logger,
		conversations: store.NewConversationStore(cfg.DataDir, logger),
		attachments:   store.NewAttachmentStore(cfg.DataDir, logger),
		agents:        store.NewAgentStore(cfg.DataDir, logger),
	}

	c, err := cache.New(a.conversations, cfg.BodyCacheSize,
		cache.WithLogger(logger),
		cache.WithSelectedModel(cfg.Gemini.ChatModel),
	)
	if err != nil {
		return nil, err
	}
	a.cache = c

	if err := a.cache.Load(ctx); err != nil {
		if !errors.Is(err, store.ErrStorageUnavailable) {
			return nil, err
		}
		logger.Warn().Err(err).Str("dir", cfg.DataDir).Msg("running without persistence")
	}
	if err := a.agents.RefreshFromStorage(); err != nil {
		logger.Error().Err(err).Msg("failed to load agents")
	}

	remoteDir := cfg.RemoteDir
	if cfg.InMemoryRemote() {
		remoteDir = ""
	}
	r, err := remote.OpenBadgerStore(remoteDir, cfg.DataDir, logger)
	if err != nil {
		logger.Error().Err(err).Str("dir", cfg.RemoteDir).Msg("sync disabled")
	} else {
		a.remote = r
		a.sync = cloudsync.NewManager(r, a.cache, a.agents, cfg.DataDir, logger, cloudsync.Options{
			FreshnessTimeout: time.Duration(cfg.Sync.FreshnessTimeout),
			PollInterval:     time.Duration(cfg.Sync.PollInterval),
		})
		a.cache.SetRemote(a.sync)
	}

	if cfg.Gemini.APIKey != "" {
		g, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     cfg.Gemini.BaseURL,
			ChatModel:   cfg.Gemini.ChatModel,
			VisionModel: cfg.Gemini.VisionModel,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("model calls disabled")
		} else {
			a.completer = g
			a.analyzer = g
		}
	} else {
		logger.Info().Msg("GEMINI_API_KEY not set, model calls disabled")
	}

	return a, nil
}

// Close releases the record database after background downloads finish.
func (a *App) Close() error {
	if a.remote == nil {
		return nil
	}
	return a.remote.Close()
}

// replicate pushes files written outside the cache, such as agents.json.
func (a *App) replicate(ctx context.Context, written ...string) {
	if a.sync != nil {
		a.sync.Replicate(ctx, cache.Change{Written: written})
	}
}
