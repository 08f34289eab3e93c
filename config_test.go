package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateHome points the home directory at a temp dir so defaults never
// touch the real ~/.chatstore.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"CHATSTORE_DATA_DIR", "CHATSTORE_REMOTE_DIR", "CHATSTORE_BODY_CACHE_SIZE",
		"GEMINI_API_KEY", "CHATSTORE_GEMINI_BASE_URL", "CHATSTORE_CHAT_MODEL", "CHATSTORE_VISION_MODEL",
		"CHATSTORE_FRESHNESS_TIMEOUT", "CHATSTORE_POLL_INTERVAL", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return home
}

func TestLoadConfigDefaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	base := filepath.Join(home, ConfigDirName)
	assert.Equal(t, filepath.Join(base, DefaultDataDirName), cfg.DataDir)
	assert.Equal(t, filepath.Join(base, DefaultRemoteDirName), cfg.RemoteDir)
	assert.Equal(t, DefaultBodyCacheSize, cfg.BodyCacheSize)
	assert.Equal(t, DefaultChatModel, cfg.Gemini.ChatModel)
	assert.Equal(t, DefaultVisionModel, cfg.Gemini.VisionModel)
	assert.Equal(t, Duration(DefaultFreshnessTimeout), cfg.Sync.FreshnessTimeout)
	assert.Equal(t, Duration(DefaultPollInterval), cfg.Sync.PollInterval)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
	assert.False(t, cfg.InMemoryRemote())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"data_dir": "/srv/chat",
		"remote_dir": "memory",
		"gemini": {"api_key": "from-file", "chat_model": "file-model"},
		"sync": {"freshness_timeout": "5s", "poll_interval": "50ms"},
		"log": {"level": "debug"}
	}`), 0o600))

	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("CHATSTORE_POLL_INTERVAL", "200ms")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/chat", cfg.DataDir)
	assert.True(t, cfg.InMemoryRemote())
	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, "file-model", cfg.Gemini.ChatModel)
	assert.Equal(t, Duration(5*time.Second), cfg.Sync.FreshnessTimeout)
	assert.Equal(t, Duration(200*time.Millisecond), cfg.Sync.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()

	malformed := filepath.Join(dir, "malformed.json")
	require.NoError(t, os.WriteFile(malformed, []byte(`{"data_dir":`), 0o600))
	_, err := LoadConfig(malformed)
	assert.Error(t, err)

	badDuration := filepath.Join(dir, "duration.json")
	require.NoError(t, os.WriteFile(badDuration, []byte(`{"sync":{"poll_interval":"soon"}}`), 0o600))
	_, err = LoadConfig(badDuration)
	assert.Error(t, err)

	inverted := filepath.Join(dir, "inverted.json")
	require.NoError(t, os.WriteFile(inverted, []byte(`{"sync":{"freshness_timeout":"1s","poll_interval":"2s"}}`), 0o600))
	_, err = LoadConfig(inverted)
	assert.ErrorContains(t, err, "poll_interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero value", Config{}, false},
		{"negative cache", Config{BodyCacheSize: -1}, true},
		{"negative duration", Config{Sync: SyncConfig{FreshnessTimeout: -1}}, true},
		{"poll equals timeout", Config{Sync: SyncConfig{FreshnessTimeout: Duration(time.Second), PollInterval: Duration(time.Second)}}, false},
		{"poll exceeds timeout", Config{Sync: SyncConfig{FreshnessTimeout: Duration(time.Second), PollInterval: Duration(2 * time.Second)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := &Config{
		DataDir: "/tmp/chat",
		Gemini:  GeminiConfig{APIKey: "secret"},
		Sync:    SyncConfig{FreshnessTimeout: Duration(10 * time.Second), PollInterval: Duration(time.Second)},
	}
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"freshness_timeout": "10s"`)

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", loaded.Gemini.APIKey)
	assert.Equal(t, cfg.Sync.FreshnessTimeout, loaded.Sync.FreshnessTimeout)
}
