package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := loadFrom(zap.NewNop(), nil)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.Empty(t, cfg.CacheDir)
	assert.True(t, cfg.CoverCacheEnabled())
}

func TestLoadFrom_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := loadFrom(zap.NewNop(), []string{"/nonexistent/config.toml"})
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.PollInterval)
}

func TestLoadFrom_File(t *testing.T) {
	path := writeConfig(t, `
poll_interval = "250ms"
debounce = "1s"
cache_dir = "/tmp/covers"
cover_cache = false
`)

	cfg, err := loadFrom(zap.NewNop(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.Debounce)
	assert.Equal(t, "/tmp/covers", cfg.CacheDir)
	assert.False(t, cfg.CoverCacheEnabled())
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `poll_interval = "2s"`)

	cfg, err := loadFrom(zap.NewNop(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.True(t, cfg.CoverCacheEnabled())
}

func TestLoadFrom_PriorityLastWins(t *testing.T) {
	low := writeConfig(t, `poll_interval = "5s"`)
	high := writeConfig(t, `poll_interval = "2s"`)

	cfg, err := loadFrom(zap.NewNop(), []string{low, high})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestLoadFrom_ClampsPollInterval(t *testing.T) {
	path := writeConfig(t, `poll_interval = "10ms"`)

	cfg, err := loadFrom(zap.NewNop(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
}

func TestLoadFrom_InvalidTOML(t *testing.T) {
	path := writeConfig(t, `poll_interval = [broken`)

	_, err := loadFrom(zap.NewNop(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tilde", "~/covers", filepath.Join(home, "covers")},
		{"absolute", "/var/cache/covers", "/var/cache/covers"},
		{"relative", "covers", "covers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandPath(tt.in))
		})
	}
}
