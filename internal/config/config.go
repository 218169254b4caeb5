// Package config loads client configuration from the environment and an
// optional YAML overlay file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Backend endpoints
	APIURL string
	WSURL  string // derived from APIURL when empty

	// HTTP client
	ClientTimeout time.Duration

	// Token persistence
	TokenFile string

	// Polling fallback intervals
	EmbeddingPollInterval time.Duration
	POPollInterval        time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig mirrors Config for the YAML overlay. Durations and the log level
// are kept as strings so the file stays human-editable.
type fileConfig struct {
	APIURL                string `yaml:"api_url"`
	WSURL                 string `yaml:"ws_url"`
	ClientTimeout         string `yaml:"client_timeout"`
	TokenFile             string `yaml:"token_file"`
	EmbeddingPollInterval string `yaml:"embedding_poll_interval"`
	POPollInterval        string `yaml:"po_poll_interval"`
	LogFile               string `yaml:"log_file"`
	LogLevel              string `yaml:"log_level"`
}

// Load reads configuration from environment variables.
// If SQLCHAT_CONFIG points at a YAML file, its values are applied first and
// environment variables still take precedence.
func Load() (Config, error) {
	var file fileConfig
	if path := os.Getenv("SQLCHAT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return Config{
		APIURL: strings.TrimRight(getEnv("SQLCHAT_API_URL", or(file.APIURL, "http://localhost:8000")), "/"),
		WSURL:  strings.TrimRight(getEnv("SQLCHAT_WS_URL", file.WSURL), "/"),

		ClientTimeout: parseDuration(getEnv("SQLCHAT_CLIENT_TIMEOUT", file.ClientTimeout), 2*time.Minute),

		TokenFile: getEnv("SQLCHAT_TOKEN_FILE", or(file.TokenFile, defaultTokenFile())),

		EmbeddingPollInterval: parseDuration(getEnv("SQLCHAT_EMBEDDING_POLL", file.EmbeddingPollInterval), 3*time.Second),
		POPollInterval:        parseDuration(getEnv("SQLCHAT_PO_POLL", file.POPollInterval), 15*time.Second),

		LogFile:  getEnv("SQLCHAT_LOG_FILE", or(file.LogFile, filepath.Join(os.TempDir(), "sqlchat.log"))),
		LogLevel: parseLogLevel(getEnv("SQLCHAT_LOG_LEVEL", or(file.LogLevel, "INFO"))),
	}, nil
}

// WebSocketURL returns the configured WebSocket base URL, deriving it from the
// API URL by swapping the scheme when none is set.
func (c Config) WebSocketURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	ws := c.APIURL
	ws = strings.Replace(ws, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return ws
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sqlchat", "token.yaml")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func or(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
