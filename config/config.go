// Package config loads the process-wide picobot configuration. The Config
// value is built once at startup and passed by reference into the stores and
// the agent loop; it is never mutated afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in the config file.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config contains runtime configuration for picobot.
type Config struct {
	// Workspace is the root directory for notes and the vector database.
	Workspace string `yaml:"workspace"`

	Provider              string `yaml:"provider"`
	Model                 string `yaml:"model"`
	APIKey                string `yaml:"api_key"`
	BaseURL               string `yaml:"base_url"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxTokens             int64  `yaml:"max_tokens"`

	Memory     Memory     `yaml:"memory"`
	Compaction Compaction `yaml:"compaction"`
}

// Memory configures the vector memory pipeline.
type Memory struct {
	Enabled       bool `yaml:"enabled"`
	VectorEnabled bool `yaml:"vector_enabled"`

	// Backend selects the vector store backing: "sqlite" (durable) or
	// "chromem" (in-memory).
	Backend string `yaml:"backend"`

	EmbeddingModel  string `yaml:"embedding_model"`
	ExtractionModel string `yaml:"extraction_model"`

	// MaxMemories bounds the item count per namespace; the lowest-importance
	// (then oldest) item is evicted when the bound would be exceeded.
	MaxMemories int `yaml:"max_memories"`

	// ExtractionInterval triggers fact extraction every Nth user turn.
	ExtractionInterval int `yaml:"extraction_interval"`

	MaxFactsPerExtraction int     `yaml:"max_facts_per_extraction"`
	CandidateThreshold    float32 `yaml:"candidate_threshold"`
	RecallK               int     `yaml:"recall_k"`
	RecallThreshold       float32 `yaml:"recall_threshold"`
	Namespace             string  `yaml:"namespace"`
	EmbeddingCacheSize    int64   `yaml:"embedding_cache_size"`
}

// Compaction configures session history compaction.
type Compaction struct {
	Threshold       int `yaml:"threshold"`
	RecentTurnsKeep int `yaml:"recent_turns_keep"`
	SummaryMaxTurns int `yaml:"summary_max_turns"`
	MaxFacts        int `yaml:"max_facts"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	return Config{
		Workspace:             filepath.Join(userHomeDir(), ".picobot"),
		Provider:              ProviderOpenAI,
		Model:                 "gpt-4o-mini",
		RequestTimeoutSeconds: 60,
		MaxTokens:             4096,
		Memory: Memory{
			Enabled:               true,
			VectorEnabled:         true,
			Backend:               "sqlite",
			EmbeddingModel:        "text-embedding-3-small",
			ExtractionModel:       "gpt-4o-mini",
			MaxMemories:           1000,
			ExtractionInterval:    3,
			MaxFactsPerExtraction: 5,
			CandidateThreshold:    0.5,
			RecallK:               5,
			RecallThreshold:       0.4,
			Namespace:             "default",
			EmbeddingCacheSize:    2048,
		},
		Compaction: Compaction{
			Threshold:       50,
			RecentTurnsKeep: 8,
			SummaryMaxTurns: 15,
			MaxFacts:        10,
		},
	}
}

// Load loads config from disk; if path does not exist, default config is
// returned. Missing API keys fall back to the conventional env variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config yaml: %w", err)
			}
		}
	}

	if cfg.APIKey == "" {
		switch cfg.Provider {
		case ProviderAnthropic:
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return errors.New("workspace must not be empty")
	}
	if c.Provider != ProviderOpenAI && c.Provider != ProviderAnthropic {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return errors.New("request_timeout_seconds must be > 0")
	}
	if c.Memory.Enabled && c.Memory.VectorEnabled {
		if c.Memory.Backend != "sqlite" && c.Memory.Backend != "chromem" {
			return fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
		}
		if c.Memory.MaxMemories <= 0 {
			return errors.New("memory.max_memories must be > 0")
		}
		if c.Memory.ExtractionInterval <= 0 {
			return errors.New("memory.extraction_interval must be > 0")
		}
	}
	if c.Compaction.Threshold <= 0 {
		return errors.New("compaction.threshold must be > 0")
	}
	return nil
}

// RequestTimeout returns the per-call timeout for provider requests.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// MemoryDir is the workspace subdirectory holding notes and the vector DB.
func (c *Config) MemoryDir() string {
	return filepath.Join(c.Workspace, "memory")
}

// VectorDBPath is the sqlite database file for the vector backend.
func (c *Config) VectorDBPath() string {
	return filepath.Join(c.MemoryDir(), "vectors.db")
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
