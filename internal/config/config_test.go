package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 5*time.Minute, cfg.Collaboration.IdleAfter)
	assert.Equal(t, 24*time.Hour, cfg.Collaboration.SessionTTL)
	assert.Equal(t, 100, cfg.Collaboration.ChangeLogLimit)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.Port = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Database.DSN = ""
	assert.Error(t, cfg.Validate())

	// The presence ladder must be strictly ordered.
	cfg = DefaultConfig()
	cfg.Collaboration.OfflineAfter = cfg.Collaboration.IdleAfter
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Collaboration.SessionTTL = cfg.Collaboration.OfflineAfter
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Collaboration.SweepInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SURVEYSYNC_HTTP_PORT", "9090")
	t.Setenv("SURVEYSYNC_DATABASE_DRIVER", "postgres")
	t.Setenv("SURVEYSYNC_DATABASE_DSN", "postgres://localhost/surveysync?sslmode=disable")
	t.Setenv("SURVEYSYNC_COLLABORATION_IDLE_AFTER", "2m")
	t.Setenv("SURVEYSYNC_WEBSOCKET_BUFFER_SIZE", "250")

	cfg := LoadFromEnv()
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Collaboration.IdleAfter)
	assert.Equal(t, 250, cfg.WebSocket.BufferSize)
}

func TestLoadFromEnv_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("SURVEYSYNC_HTTP_PORT", "not-a-number")
	t.Setenv("SURVEYSYNC_COLLABORATION_LOCK_TTL", "soon")

	cfg := LoadFromEnv()
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Minute, cfg.Collaboration.LockTTL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"http": {"port": 9999, "host": "127.0.0.1"},
		"database": {"driver": "postgres", "dsn": "postgres://db/surveysync"},
		"collaboration": {"idle_after": "1m", "offline_after": "10m", "session_ttl": "48h", "sweep_interval": "15s"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, time.Minute, cfg.Collaboration.IdleAfter)
	assert.Equal(t, 10*time.Minute, cfg.Collaboration.OfflineAfter)
	assert.Equal(t, 48*time.Hour, cfg.Collaboration.SessionTTL)
	assert.Equal(t, 15*time.Second, cfg.Collaboration.SweepInterval)

	// Unspecified sections keep defaults.
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("SURVEYSYNC_HTTP_PORT", "7070")

	// No file: environment wins over defaults.
	cfg := LoadConfigWithPrecedence("")
	assert.Equal(t, 7070, cfg.HTTP.Port)

	// File wins over environment.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"http": {"port": 6060}}`), 0o644))

	cfg = LoadConfigWithPrecedence(path)
	assert.Equal(t, 6060, cfg.HTTP.Port)

	// An unreadable file degrades to environment/defaults.
	cfg = LoadConfigWithPrecedence(filepath.Join(dir, "missing.json"))
	assert.Equal(t, 7070, cfg.HTTP.Port)
}
