// Package config loads and validates scenesmith configuration.
// Configuration lives in a YAML file (default: .scenesmith/config.yaml) and
// can be overridden by SCENESMITH_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all scenesmith configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Scene pipeline settings
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Render executor settings
	Render RenderConfig `yaml:"render"`

	// Fix-memory store settings
	Memory MemoryConfig `yaml:"memory"`

	// Web research settings
	Research ResearchConfig `yaml:"research"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generative collaborator.
type LLMConfig struct {
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`

	// Embedding model used for lesson retrieval. Empty disables embeddings
	// and the memory store falls back to digest-distance ranking only.
	EmbeddingModel string `yaml:"embedding_model"`
}

// PipelineConfig configures the scene orchestrator.
type PipelineConfig struct {
	// Maximum render attempts per scene before it is marked failed.
	MaxAttempts int `yaml:"max_attempts"`

	// Maximum scenes of one video processed concurrently.
	MaxSceneConcurrency int `yaml:"max_scene_concurrency"`

	// Directory for generated code, error logs and rendered media.
	OutputDir string `yaml:"output_dir"`

	// Optional YAML file with user-supplied auto-fix rewrite rules.
	// Watched for changes and hot-reloaded when set.
	AutoFixRulesPath string `yaml:"auto_fix_rules_path"`

	// How many memory hits seed a memory-seeded fix.
	MemoryHitLimit int `yaml:"memory_hit_limit"`

	// How many preventive examples seed first-draft generation.
	PreventiveExampleLimit int `yaml:"preventive_example_limit"`
}

// RenderConfig configures the render subprocess.
type RenderConfig struct {
	// Command invoked per attempt; the scene file path is appended.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Wall-clock timeout for one render attempt.
	Timeout string `yaml:"timeout"`

	// Grace period between SIGTERM-equivalent cancellation and hard kill.
	KillGrace string `yaml:"kill_grace"`

	// Media output directory passed to the renderer.
	MediaDir string `yaml:"media_dir"`

	// Assembly command (concat muxing). The input list file and output
	// path are appended.
	AssembleCommand string `yaml:"assemble_command"`
}

// MemoryConfig configures the fix-memory store.
type MemoryConfig struct {
	// SQLite database path. Shared across videos and sessions.
	DatabasePath string `yaml:"database_path"`

	// Maximum snippet length persisted per fix record.
	MaxSnippetLen int `yaml:"max_snippet_len"`
}

// ResearchConfig configures the web tier.
type ResearchConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MaxResults int    `yaml:"max_results"`
	Timeout    string `yaml:"timeout"`

	// Domains ranked above everything else in result ordering.
	PreferredDomains []string `yaml:"preferred_domains"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Name:    "scenesmith",
		Version: "0.1.0",
		LLM: LLMConfig{
			Model:           "gemini-2.5-flash",
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Timeout:         "5m",
			MaxOutputTokens: 32768,
			EmbeddingModel:  "gemini-embedding-001",
		},
		Pipeline: PipelineConfig{
			MaxAttempts:            3,
			MaxSceneConcurrency:    4,
			OutputDir:              "output",
			MemoryHitLimit:         3,
			PreventiveExampleLimit: 3,
		},
		Render: RenderConfig{
			Command:         "manim",
			Args:            []string{"-qh"},
			Timeout:         "10m",
			KillGrace:       "10s",
			MediaDir:        "media",
			AssembleCommand: "ffmpeg",
		},
		Memory: MemoryConfig{
			DatabasePath:  filepath.Join(".scenesmith", "fix_memory.db"),
			MaxSnippetLen: 2000,
		},
		Research: ResearchConfig{
			Enabled:    true,
			MaxResults: 5,
			Timeout:    "30s",
			PreferredDomains: []string{
				"docs.manim.community",
				"github.com",
				"stackoverflow.com",
			},
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("SCENESMITH_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("SCENESMITH_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if dir := os.Getenv("SCENESMITH_OUTPUT_DIR"); dir != "" {
		c.Pipeline.OutputDir = dir
	}
	if path := os.Getenv("SCENESMITH_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if v := os.Getenv("SCENESMITH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.MaxAttempts = n
		}
	}
	if v := os.Getenv("SCENESMITH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.MaxSceneConcurrency = n
		}
	}
	if v := os.Getenv("SCENESMITH_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.MaxSceneConcurrency < 1 {
		return fmt.Errorf("pipeline.max_scene_concurrency must be >= 1, got %d", c.Pipeline.MaxSceneConcurrency)
	}
	if c.Memory.MaxSnippetLen < 100 {
		return fmt.Errorf("memory.max_snippet_len must be >= 100, got %d", c.Memory.MaxSnippetLen)
	}
	if c.Render.Command == "" {
		return fmt.Errorf("render.command must not be empty")
	}
	if _, err := c.RenderTimeout(); err != nil {
		return fmt.Errorf("render.timeout: %w", err)
	}
	if _, err := c.LLMTimeout(); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	return nil
}

// RenderTimeout parses the render timeout duration.
func (c *Config) RenderTimeout() (time.Duration, error) {
	return parseDuration(c.Render.Timeout, 10*time.Minute)
}

// KillGrace parses the render kill grace period.
func (c *Config) KillGrace() (time.Duration, error) {
	return parseDuration(c.Render.KillGrace, 10*time.Second)
}

// LLMTimeout parses the LLM call timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	return parseDuration(c.LLM.Timeout, 5*time.Minute)
}

// ResearchTimeout parses the web search timeout.
func (c *Config) ResearchTimeout() (time.Duration, error) {
	return parseDuration(c.Research.Timeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
