package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "./data/everkeep.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "development", cfg.Security.Mode)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 30*time.Second, cfg.Reminder.Interval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EVERKEEP_PORT", "9090")
	t.Setenv("EVERKEEP_EMBEDDING_DIMENSION", "1024")
	t.Setenv("EVERKEEP_REMINDER_INTERVAL", "5m")
	t.Setenv("EVERKEEP_RATE_LIMIT_PER_SEC", "2.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, 5*time.Minute, cfg.Reminder.Interval)
	assert.Equal(t, 2.5, cfg.Server.RateLimitPerSec)
}

func TestLoadYAMLFileThenEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "everkeep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
telegram:
  token: yaml-token
`), 0o600))

	t.Setenv("EVERKEEP_PORT", "7001")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port, "env overrides the file")
	assert.Equal(t, "yaml-token", cfg.Telegram.Token)
}

func TestLoadPostgresDSNSwitchesDriver(t *testing.T) {
	t.Setenv("EVERKEEP_POSTGRES_DSN", "postgres://localhost/everkeep")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("EVERKEEP_STORAGE_DRIVER", "mongodb")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("postgres without DSN", func(t *testing.T) {
		t.Setenv("EVERKEEP_STORAGE_DRIVER", "postgres")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("production without token", func(t *testing.T) {
		t.Setenv("EVERKEEP_SECURITY_MODE", "production")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("EVERKEEP_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvInt("EVERKEEP_TEST_INT", 7), "unparseable values fall back")

	t.Setenv("EVERKEEP_TEST_DURATION", "oops")
	assert.Equal(t, time.Minute, getEnvDuration("EVERKEEP_TEST_DURATION", time.Minute))

	assert.Equal(t, "fallback", getEnv("EVERKEEP_TEST_UNSET", "fallback"))
}
