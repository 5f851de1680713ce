package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetState() {
	CloseAll()
	stateMu.Lock()
	logsDir = ""
	debugMode = false
	logLevel = LevelInfo
	stateMu.Unlock()
}

func TestCategoriesWriteFiles(t *testing.T) {
	resetState()
	defer resetState()

	tempDir := t.TempDir()
	if err := Initialize(tempDir, true, "debug"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !IsDebugMode() {
		t.Error("expected debug mode to be enabled")
	}

	Pipeline("scene %d advancing", 1)
	Render("attempt %d", 2)
	FixChain("tier %s", "auto")
	CloseAll()

	dir := filepath.Join(tempDir, ".scenesmith", "logs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("logs dir not created: %v", err)
	}
	found := map[string]bool{}
	for _, e := range entries {
		for _, cat := range []string{"pipeline", "render", "fixchain", "boot"} {
			if strings.Contains(e.Name(), cat) {
				found[cat] = true
			}
		}
	}
	for _, cat := range []string{"pipeline", "render", "fixchain", "boot"} {
		if !found[cat] {
			t.Errorf("expected a log file for category %s", cat)
		}
	}
}

func TestDisabledIsNoOp(t *testing.T) {
	resetState()
	defer resetState()

	tempDir := t.TempDir()
	if err := Initialize(tempDir, false, "info"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Pipeline("this should go nowhere")
	Get(CategoryMemory).Error("neither should this")

	if _, err := os.Stat(filepath.Join(tempDir, ".scenesmith", "logs")); !os.IsNotExist(err) {
		t.Error("expected no logs directory when debug is disabled")
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	resetState()
	defer resetState()

	tempDir := t.TempDir()
	if err := Initialize(tempDir, true, "info"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	PipelineDebug("filtered out")
	Pipeline("kept")
	CloseAll()

	dir := filepath.Join(tempDir, ".scenesmith", "logs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("logs dir not created: %v", err)
	}
	for _, e := range entries {
		if !strings.Contains(e.Name(), "pipeline") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		if strings.Contains(string(data), "filtered out") {
			t.Error("debug line should be filtered at info level")
		}
		if !strings.Contains(string(data), "kept") {
			t.Error("info line missing from pipeline log")
		}
	}
}

func TestTimerStop(t *testing.T) {
	resetState()
	defer resetState()

	timer := StartTimer(CategoryRender, "noop render")
	if d := timer.Stop(); d < 0 || d > time.Minute {
		t.Errorf("implausible elapsed duration %v", d)
	}
}
