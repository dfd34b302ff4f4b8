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
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Addr())
	assert.Equal(t, "whisper-1", cfg.Transcription.Model)
	assert.Equal(t, time.Minute, cfg.Sweep.Interval)
	assert.True(t, cfg.Notifications.WebPush)
	assert.False(t, cfg.Notifications.Email)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
sweep:
  interval: 30s
transcription:
  api_key: sk-test
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	assert.Equal(t, "sk-test", cfg.Transcription.APIKey)
	// Untouched sections keep their defaults.
	assert.Equal(t, "murmur.db", cfg.Store.Path)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MURMUR_SERVER_PORT", "7070")
	t.Setenv("MURMUR_EXTRACTION_MODEL", "gpt-4o")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.Extraction.Model)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Sweep.Interval = 100 * time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
