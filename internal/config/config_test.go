package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "scenesmith" {
		t.Errorf("expected Name=scenesmith, got %s", cfg.Name)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Pipeline.MaxSceneConcurrency != 4 {
		t.Errorf("expected MaxSceneConcurrency=4, got %d", cfg.Pipeline.MaxSceneConcurrency)
	}
	if cfg.Render.Command != "manim" {
		t.Errorf("expected render command=manim, got %s", cfg.Render.Command)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("SCENESMITH_API_KEY", "")
	t.Setenv("SCENESMITH_MODEL", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "gemini-2.5-pro"
	cfg.Pipeline.MaxAttempts = 5

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LLM.Model != "gemini-2.5-pro" {
		t.Errorf("expected Model=gemini-2.5-pro, got %s", loaded.LLM.Model)
	}
	if loaded.Pipeline.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts=5, got %d", loaded.Pipeline.MaxAttempts)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("SCENESMITH_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Render.AssembleCommand != "ffmpeg" {
		t.Errorf("expected assemble command=ffmpeg, got %s", cfg.Render.AssembleCommand)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	os.Setenv("SCENESMITH_API_KEY", "env-key")
	defer os.Unsetenv("SCENESMITH_API_KEY")
	os.Setenv("SCENESMITH_MAX_ATTEMPTS", "7")
	defer os.Unsetenv("SCENESMITH_MAX_ATTEMPTS")
	os.Setenv("SCENESMITH_DEBUG", "true")
	defer os.Unsetenv("SCENESMITH_DEBUG")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected APIKey=env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Pipeline.MaxAttempts != 7 {
		t.Errorf("expected MaxAttempts=7, got %d", cfg.Pipeline.MaxAttempts)
	}
	if !cfg.Logging.DebugMode || cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got debug=%v level=%s", cfg.Logging.DebugMode, cfg.Logging.Level)
	}
}

func TestEnvOverride_SpecificKeyWins(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "gemini-key")
	defer os.Unsetenv("GEMINI_API_KEY")
	os.Setenv("SCENESMITH_API_KEY", "scenesmith-key")
	defer os.Unsetenv("SCENESMITH_API_KEY")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.LLM.APIKey != "scenesmith-key" {
		t.Errorf("expected SCENESMITH_API_KEY to win, got %s", cfg.LLM.APIKey)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid default config, got error: %v", err)
	}

	cfg.Pipeline.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for max_attempts=0")
	}
	cfg = DefaultConfig()

	cfg.Memory.MaxSnippetLen = 10
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for tiny max_snippet_len")
	}
	cfg = DefaultConfig()

	cfg.Render.Timeout = "ten minutes"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unparseable render timeout")
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()

	d, err := cfg.RenderTimeout()
	if err != nil || d != 10*time.Minute {
		t.Errorf("expected 10m render timeout, got %v (%v)", d, err)
	}

	cfg.Render.Timeout = ""
	d, err = cfg.RenderTimeout()
	if err != nil || d != 10*time.Minute {
		t.Errorf("expected fallback render timeout, got %v (%v)", d, err)
	}

	cfg.LLM.Timeout = "-5s"
	if _, err := cfg.LLMTimeout(); err == nil {
		t.Error("expected error for negative duration")
	}
}
