package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SQLCHAT_CONFIG", "")
	t.Setenv("SQLCHAT_API_URL", "")
	t.Setenv("SQLCHAT_WS_URL", "")
	t.Setenv("SQLCHAT_EMBEDDING_POLL", "")
	t.Setenv("SQLCHAT_PO_POLL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.APIURL)
	assert.Equal(t, "ws://localhost:8000", cfg.WebSocketURL())
	assert.Equal(t, 3*time.Second, cfg.EmbeddingPollInterval)
	assert.Equal(t, 15*time.Second, cfg.POPollInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SQLCHAT_CONFIG", "")
	t.Setenv("SQLCHAT_API_URL", "https://api.example.com/")
	t.Setenv("SQLCHAT_EMBEDDING_POLL", "500ms")
	t.Setenv("SQLCHAT_PO_POLL", "not-a-duration")
	t.Setenv("SQLCHAT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.APIURL)
	assert.Equal(t, "wss://api.example.com", cfg.WebSocketURL())
	assert.Equal(t, 500*time.Millisecond, cfg.EmbeddingPollInterval)
	assert.Equal(t, 15*time.Second, cfg.POPollInterval, "invalid duration falls back to default")
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlchat.yaml")
	content := `api_url: http://backend:9000
ws_url: ws://push:9001
po_poll_interval: 30s
log_level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SQLCHAT_CONFIG", path)
	t.Setenv("SQLCHAT_API_URL", "")
	t.Setenv("SQLCHAT_WS_URL", "")
	t.Setenv("SQLCHAT_PO_POLL", "")
	t.Setenv("SQLCHAT_LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.APIURL)
	assert.Equal(t, "ws://push:9001", cfg.WebSocketURL())
	assert.Equal(t, 30*time.Second, cfg.POPollInterval)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("SQLCHAT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("channel connected", "project_id", "p1")
	logger.Debug("suppressed")

	assert.Contains(t, stderr.String(), "channel connected")
	assert.Contains(t, file.String(), `"project_id":"p1"`)
	assert.NotContains(t, file.String(), "suppressed")
}
