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

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, ModeMemory, cfg.Mode)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.ChatPollInterval)
	assert.Equal(t, time.Second, cfg.ReconnectBase)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.StoryCooldown)
	assert.Equal(t, 20*time.Second, cfg.StoryTimeout)
	assert.Equal(t, "gpt-4o-mini", cfg.StoryModel)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORYFORGE_MODE=local\nSTORYFORGE_POLL_INTERVAL=250ms\n"), 0o600))
	// godotenv never overrides variables that are already set; t.Setenv
	// restores the originals afterwards.
	t.Setenv("STORYFORGE_MODE", "")
	t.Setenv("STORYFORGE_POLL_INTERVAL", "")
	os.Unsetenv("STORYFORGE_MODE")
	os.Unsetenv("STORYFORGE_POLL_INTERVAL")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
}

func TestLoadErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Run("remote needs a database", func(t *testing.T) {
		t.Setenv("STORYFORGE_MODE", "remote")
		t.Setenv("DATABASE_URL", "")
		_, err := Load(missing)
		require.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("unknown mode", func(t *testing.T) {
		t.Setenv("STORYFORGE_MODE", "cloud")
		_, err := Load(missing)
		require.ErrorContains(t, err, "unknown mode")
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("STORYFORGE_POLL_INTERVAL", "soon")
		_, err := Load(missing)
		require.ErrorContains(t, err, "parse env:")
	})
}
