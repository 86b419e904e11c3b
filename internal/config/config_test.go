package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	cfg := Load()

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, "flowstack", cfg.SubjectPrefix)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, LogFormatConsole, cfg.LogFormat)
	assert.Equal(t, "en", cfg.Lang)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
	assert.False(t, cfg.CollectArtifacts)
	assert.Equal(t, 5, cfg.RelayBurst)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FLOWSTACK_NATS_URL", "nats://nats:4222")
	t.Setenv("FLOWSTACK_SUBJECT_PREFIX", "demo")
	t.Setenv("FLOWSTACK_LOG_LEVEL", "DEBUG")
	t.Setenv("FLOWSTACK_LANG", "de")
	t.Setenv("FLOWSTACK_COLLECT_ARTIFACTS", "true")
	t.Setenv("FLOWSTACK_RELAY_RATE", "2.5")
	t.Setenv("FLOWSTACK_MAX_SESSIONS", "bogus")
	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")

	cfg := Load()
	assert.Equal(t, "nats://nats:4222", cfg.NATSURL)
	assert.Equal(t, "demo", cfg.SubjectPrefix)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "de", cfg.Lang)
	assert.True(t, cfg.CollectArtifacts)
	assert.Equal(t, 2.5, cfg.RelayRate)
	assert.Equal(t, 0, cfg.MaxSessions)
	assert.True(t, cfg.IsKubernetes)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
		{"prefix", func(c *Config) { c.SubjectPrefix = "a.b" }},
		{"sample ratio", func(c *Config) { c.TraceSampleRatio = 2 }},
		{"relay rate", func(c *Config) { c.RelayRate = -1 }},
		{"relay burst", func(c *Config) { c.RelayBurst = 0 }},
		{"max sessions", func(c *Config) { c.MaxSessions = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KUBERNETES_SERVICE_HOST", "")
			cfg := Load()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), sdkerrors.ErrInvalidConfig)
		})
	}
}

func TestStringHidesSecrets(t *testing.T) {
	cfg := Load()
	cfg.BlobConnectionString = "AccountName=a;AccountKey=secret"
	s := cfg.String()
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "container=")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowstack.env")
	require.NoError(t, os.WriteFile(path, []byte("FLOWSTACK_TEST_ONLY_VAR=from-file\n"), 0o600))
	t.Setenv("FLOWSTACK_TEST_ONLY_VAR", "")
	require.NoError(t, os.Unsetenv("FLOWSTACK_TEST_ONLY_VAR"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("FLOWSTACK_TEST_ONLY_VAR"))

	assert.Error(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}
