package config

import (
	"encoding/json"
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

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Engine.MaxRetries)
	assert.Equal(t, 0.5, cfg.Engine.LowConfidence)
	assert.Equal(t, 60, cfg.Engine.FusionK)
	assert.Equal(t, 20, cfg.Session.TrimThreshold)
	assert.Equal(t, 10, cfg.Session.KeepAfterTrim)
	assert.Equal(t, "conversation_memory", cfg.Qdrant.MemoryCollection)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
engine:
  max_retries: 5
  step_timeout: 45s
mysql:
  password: hunter2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, 45*time.Second, cfg.Engine.StepTimeout.Duration())
	assert.Equal(t, "hunter2", cfg.MySQL.Password.Value())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0600))

	t.Setenv("QUERYD_SERVER_PORT", "7777")
	t.Setenv("QUERYD_QDRANT_MEMORY_COLLECTION", "mem_test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "mem_test", cfg.Qdrant.MemoryCollection)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"bad confidence", func(c *Config) { c.Engine.LowConfidence = 1.5 }},
		{"keep exceeds threshold", func(c *Config) { c.Session.KeepAfterTrim = 50 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "super-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("bogus")))
}
