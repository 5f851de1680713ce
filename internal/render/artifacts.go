package render

import (
	"fmt"
	"os"
	"path/filepath"

	"scenesmith/internal/logging"
)

// Workspace lays out the on-disk artifacts for one video: per-attempt scene
// code, error logs and the media tree. Keeping every attempt on disk makes
// failed runs debuggable after the fact.
type Workspace struct {
	root string
}

// NewWorkspace creates (if needed) the artifact tree under root.
func NewWorkspace(root string) (*Workspace, error) {
	for _, sub := range []string{"code", "logs", "media"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// MediaDir returns the directory the renderer writes media into.
func (w *Workspace) MediaDir() string { return filepath.Join(w.root, "media") }

// WriteAttemptCode persists the code for one render attempt and returns its
// path. Attempts are numbered from 1.
func (w *Workspace) WriteAttemptCode(sceneNumber, attempt int, code string) (string, error) {
	path := filepath.Join(w.root, "code", fmt.Sprintf("scene_%02d_attempt_%d.py", sceneNumber, attempt))
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("write attempt code: %w", err)
	}
	return path, nil
}

// WriteErrorLog persists renderer output for a failed attempt.
func (w *Workspace) WriteErrorLog(sceneNumber, attempt int, output string) error {
	path := filepath.Join(w.root, "logs", fmt.Sprintf("scene_%02d_attempt_%d_error.log", sceneNumber, attempt))
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return fmt.Errorf("write error log: %w", err)
	}
	logging.RenderDebug("error log written: %s", path)
	return nil
}
