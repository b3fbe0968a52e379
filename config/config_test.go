package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_LoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Equal(t, 3*time.Second, cfg.Session.RetryDelay)
		assert.Equal(t, 0.5, cfg.Session.ReadThreshold)
		assert.Equal(t, "file", cfg.State.Driver)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("partial file keeps other defaults", func(t *testing.T) {
		path := writeFile(t, "session:\n  retryDelay: 1s\nserver:\n  apiBaseUrl: https://chat.example.com/api/v1\n")
		cfg := LoadConfig(path)
		assert.Equal(t, time.Second, cfg.Session.RetryDelay)
		assert.Equal(t, "https://chat.example.com/api/v1", cfg.Server.APIBaseURL)
		assert.Equal(t, 3*time.Second, cfg.Session.TypingIdle)
	})

	t.Run("invalid yaml falls back to defaults", func(t *testing.T) {
		cfg := LoadConfig(writeFile(t, "session: [unterminated"))
		assert.Equal(t, getDefaultConfig(), cfg)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("SESSION_RETRY_DELAY", "250ms")
		t.Setenv("STATE_DRIVER", "redis")
		t.Setenv("LOG_CONSOLE", "true")
		t.Setenv("SESSION_READ_THRESHOLD", "0.75")

		cfg := LoadConfig(writeFile(t, "session:\n  retryDelay: 5s\n"))
		assert.Equal(t, 250*time.Millisecond, cfg.Session.RetryDelay)
		assert.Equal(t, "redis", cfg.State.Driver)
		assert.True(t, cfg.Log.Console)
		assert.Equal(t, 0.75, cfg.Session.ReadThreshold)
	})
}

func Test_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty api url", func(c *Config) { c.Server.APIBaseURL = "" }},
		{"relative ws url", func(c *Config) { c.Server.WebSocketURL = "/chat/websocket" }},
		{"zero retry delay", func(c *Config) { c.Session.RetryDelay = 0 }},
		{"negative typing idle", func(c *Config) { c.Session.TypingIdle = -time.Second }},
		{"threshold above one", func(c *Config) { c.Session.ReadThreshold = 1.5 }},
		{"unknown driver", func(c *Config) { c.State.Driver = "sqlite" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := getDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
