package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty directory so no config.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, 10, cfg.Portal.PollAttempts)
	assert.Equal(t, 2, cfg.Portal.AuthFailLimit)
	assert.Equal(t, "intake", cfg.Intake.Dir)
	assert.Equal(t, "archive", cfg.Intake.ArchiveRoot)
	assert.Equal(t, 2, cfg.Batch.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configYAML := `
store:
  driver: postgres
  database_url: postgres://localhost/leaseverify
portal:
  systems:
    portal-a:
      base_url: https://portal-a.example.com
      username: svc
      password: secret
intake:
  dir: /data/intake
  archive_root: /data/archive
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "/data/intake", cfg.Intake.Dir)
	require.Contains(t, cfg.Portal.Systems, "portal-a")
	assert.Equal(t, "https://portal-a.example.com", cfg.Portal.Systems["portal-a"].BaseURL)
	// Defaults still apply for unset keys.
	assert.Equal(t, "local", cfg.OCR.Provider)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEASEVERIFY_STORE_DRIVER", "postgres")
	t.Setenv("LEASEVERIFY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "x.db"
	require.NoError(t, cfg.Validate("store"))

	err := cfg.Validate("verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")

	cfg.Anthropic.Key = "sk-test"
	require.NoError(t, cfg.Validate("verify"))

	cfg.Portal.Systems = map[string]SystemConfig{
		"portal-a": {BaseURL: "https://a.example.com", Username: "u"},
	}
	err = cfg.Validate("verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
