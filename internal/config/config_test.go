package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 300*time.Second, cfg.Sonar.PollTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sonar.PollInterval)
	assert.Equal(t, 100, cfg.Sonar.PageSize)
	assert.Equal(t, 30*time.Second, cfg.AI.RequestTimeout)
	assert.Equal(t, 0.7, cfg.AI.Temperature)
	assert.Equal(t, 0.95, cfg.AI.TopP)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.Retry.InitialInterval)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", "file:skillscout.db")
	t.Setenv("SONAR_POLL_TIMEOUT", "2m")
	t.Setenv("SONAR_SCANNER_MODE", "docker")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("AI_TEMPERATURE", "0.2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Sonar.PollTimeout)
	assert.Equal(t, "docker", cfg.Sonar.ScannerMode)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 0.2, cfg.AI.Temperature)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"DATABASE_DRIVER":     "mysql",
		"SONAR_SCANNER_MODE":  "ssh",
		"AI_PROVIDER":         "bard",
		"AI_TOP_P":            "1.5",
		"SONAR_POLL_INTERVAL": "10m",
		"RETRY_MAX_ATTEMPTS":  "0",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
