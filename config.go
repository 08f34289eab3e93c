package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds application configuration from ~/.chatstore/config.json,
// overridden by environment variables.
type Config struct {
	DataDir       string       `json:"data_dir,omitempty" env:"CHATSTORE_DATA_DIR"`               // Local base directory for index, conversations, attachments
	RemoteDir     string       `json:"remote_dir,omitempty" env:"CHATSTORE_REMOTE_DIR"`           // Record database directory; "memory" keeps it in RAM
	BodyCacheSize int          `json:"body_cache_size,omitempty" env:"CHATSTORE_BODY_CACHE_SIZE"` // Message bodies kept in memory
	Gemini        GeminiConfig `json:"gemini,omitempty"`
	Sync          SyncConfig   `json:"sync,omitempty"`
	Log           LogConfig    `json:"log,omitempty"`
}

// GeminiConfig holds Gemini model settings.
type GeminiConfig struct {
	APIKey      string `json:"api_key,omitempty" env:"GEMINI_API_KEY"`
	BaseURL     string `json:"base_url,omitempty" env:"CHATSTORE_GEMINI_BASE_URL"`
	ChatModel   string `json:"chat_model,omitempty" env:"CHATSTORE_CHAT_MODEL"`
	VisionModel string `json:"vision_model,omitempty" env:"CHATSTORE_VISION_MODEL"`
}

// SyncConfig tunes the freshness wait of the sync manager.
type SyncConfig struct {
	FreshnessTimeout Duration `json:"freshness_timeout,omitempty" env:"CHATSTORE_FRESHNESS_TIMEOUT"`
	PollInterval     Duration `json:"poll_interval,omitempty" env:"CHATSTORE_POLL_INTERVAL"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `json:"level,omitempty" env:"LOG_LEVEL"`
	Format string `json:"format,omitempty" env:"LOG_FORMAT"` // "console" or "json"
}

// Duration is a time.Duration written as "30s" in JSON and environment
// variables.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// ConfigDir returns ~/.chatstore.
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ConfigDirName), nil
}

// LoadConfig reads configuration from path, or from ~/.chatstore/config.json
// when path is empty. A missing file is not an error. Environment variables
// override file values, then defaults fill the gaps.
func LoadConfig(path string) (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(dir, ConfigFileName)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults and environment variables only.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.applyDefaults(dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(dir string) {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(dir, DefaultDataDirName)
	}
	if c.RemoteDir == "" {
		c.RemoteDir = filepath.Join(dir, DefaultRemoteDirName)
	}
	if c.BodyCacheSize == 0 {
		c.BodyCacheSize = DefaultBodyCacheSize
	}
	if c.Gemini.ChatModel == "" {
		c.Gemini.ChatModel = DefaultChatModel
	}
	if c.Gemini.VisionModel == "" {
		c.Gemini.VisionModel = DefaultVisionModel
	}
	if c.Sync.FreshnessTimeout == 0 {
		c.Sync.FreshnessTimeout = Duration(DefaultFreshnessTimeout)
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = Duration(DefaultPollInterval)
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.BodyCacheSize < 0 {
		return fmt.Errorf("body_cache_size must not be negative, got %d", c.BodyCacheSize)
	}
	if c.Sync.FreshnessTimeout < 0 || c.Sync.PollInterval < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	if c.Sync.PollInterval > c.Sync.FreshnessTimeout {
		return fmt.Errorf("poll_interval (%s) exceeds freshness_timeout (%s)",
			time.Duration(c.Sync.PollInterval), time.Duration(c.Sync.FreshnessTimeout))
	}
	return nil
}

// InMemoryRemote reports whether the record database lives in RAM only.
func (c *Config) InMemoryRemote() bool {
	return c.RemoteDir == InMemoryRemoteDir
}

// SaveConfig writes configuration to path, or to ~/.chatstore/config.json
// when path is empty.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, ConfigFileName)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file can hold an API key.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config.json: %w", err)
	}
	return nil
}
