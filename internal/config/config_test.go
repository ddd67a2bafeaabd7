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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, 10, cfg.PoolMicroPreset)
	assert.Equal(t, 5, cfg.PoolShortPreset)
	assert.Equal(t, 6, cfg.PoolMicroGeneratedCap)
	assert.Equal(t, 4, cfg.PoolShortGeneratedCap)
	assert.Equal(t, 7, cfg.PoolDedupWindowDays)
	assert.Equal(t, 70, cfg.ScoreFallback)
	assert.Equal(t, 5*time.Minute, cfg.SchedulerAugmentInterval)
	assert.Equal(t, 60*time.Second, cfg.AITimeout)
	assert.False(t, cfg.AIEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POOL_MICRO_GENERATED_CAP", "9")
	t.Setenv("SCHEDULER_AUGMENT_INTERVAL", "90s")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 9, cfg.PoolMicroGeneratedCap)
	assert.Equal(t, 90*time.Second, cfg.SchedulerAugmentInterval)
	assert.True(t, cfg.AIEnabled())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SCORE_FALLBACK=55\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SCORE_FALLBACK") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 55, cfg.ScoreFallback)
}

func TestValidate(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("SCORE_FALLBACK", "101")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
