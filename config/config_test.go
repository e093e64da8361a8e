package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "test-key"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, 50, cfg.Compaction.Threshold)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workspace: /tmp/pico
provider: anthropic
model: claude-sonnet-4-20250514
api_key: file-key
memory:
  backend: chromem
  extraction_interval: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pico", cfg.Workspace)
	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, "chromem", cfg.Memory.Backend)
	assert.Equal(t, 5, cfg.Memory.ExtractionInterval)
	// Untouched fields keep their defaults.
	assert.Equal(t, 1000, cfg.Memory.MaxMemories)
}

func TestLoadAnthropicEnvFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: anthropic
model: claude-sonnet-4-20250514
`), 0o644))
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic-env-key", cfg.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"empty workspace":     func(c *Config) { c.Workspace = "" },
		"unknown provider":    func(c *Config) { c.Provider = "cohere" },
		"empty model":         func(c *Config) { c.Model = "" },
		"zero timeout":        func(c *Config) { c.RequestTimeoutSeconds = 0 },
		"unknown backend":     func(c *Config) { c.Memory.Backend = "redis" },
		"zero max memories":   func(c *Config) { c.Memory.MaxMemories = 0 },
		"zero interval":       func(c *Config) { c.Memory.ExtractionInterval = 0 },
		"zero compaction":     func(c *Config) { c.Compaction.Threshold = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWorkspacePaths(t *testing.T) {
	cfg := Default()
	cfg.Workspace = "/home/u/.picobot"
	assert.Equal(t, "/home/u/.picobot/memory", cfg.MemoryDir())
	assert.Equal(t, "/home/u/.picobot/memory/vectors.db", cfg.VectorDBPath())
}
