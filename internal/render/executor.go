// Package render runs the external renderer over generated scene code and
// assembles the final video from per-scene clips.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"scenesmith/internal/logging"
)

// Result is the outcome of one render attempt. Success means the renderer
// exited zero and produced an output file.
type Result struct {
	Success    bool
	OutputPath string
	Output     string
	TimedOut   bool
	Duration   time.Duration
}

// Renderer abstracts the external render subprocess so the pipeline can run
// against a fake in tests.
type Renderer interface {
	Render(ctx context.Context, codePath, sceneClass, mediaDir string) (Result, error)
}

// Executor renders scene code by invoking the configured command, typically
// manim, with a hard timeout.
type Executor struct {
	command   string
	args      []string
	timeout   time.Duration
	killGrace time.Duration
	maxOutput int
}

// Config controls the render subprocess.
type Config struct {
	Command   string
	Args      []string
	Timeout   time.Duration
	KillGrace time.Duration
	MaxOutput int
}

// NewExecutor builds an Executor with sane fallbacks for unset fields.
func NewExecutor(cfg Config) *Executor {
	if cfg.Command == "" {
		cfg.Command = "manim"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 10 * time.Second
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 64 * 1024
	}
	return &Executor{
		command:   cfg.Command,
		args:      cfg.Args,
		timeout:   cfg.Timeout,
		killGrace: cfg.KillGrace,
		maxOutput: cfg.MaxOutput,
	}
}

// Render runs the renderer on codePath for the given scene class, writing
// media under mediaDir. A timeout is reported on the Result, not as an
// error: the caller treats it as a classifiable failure like any other.
func (e *Executor) Render(ctx context.Context, codePath, sceneClass, mediaDir string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append([]string{}, e.args...)
	args = append(args, "--media_dir", mediaDir, codePath, sceneClass)

	cmd := exec.CommandContext(runCtx, e.command, args...)
	cmd.Dir = filepath.Dir(codePath)
	cmd.WaitDelay = e.killGrace

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	logging.Render("rendering %s from %s", sceneClass, filepath.Base(codePath))
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Output:   truncateOutput(buf.String(), e.maxOutput),
		Duration: time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.Output += fmt.Sprintf("\nRenderTimeout: render exceeded %s and was killed", e.timeout)
		logging.Render("render of %s timed out after %s", sceneClass, e.timeout)
		return res, nil
	}
	if err != nil {
		// Parent cancellation is not a scene failure.
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logging.Render("render of %s failed: exit %d", sceneClass, exitErr.ExitCode())
			return res, nil
		}
		return res, fmt.Errorf("start renderer: %w", err)
	}

	out, findErr := findOutputFile(mediaDir, sceneClass)
	if findErr != nil {
		res.Output += "\n" + findErr.Error()
		logging.Render("render of %s exited clean but produced no video", sceneClass)
		return res, nil
	}

	res.Success = true
	res.OutputPath = out
	logging.Render("rendered %s in %s -> %s", sceneClass, res.Duration.Round(time.Millisecond), out)
	return res, nil
}

// findOutputFile locates the newest .mp4 the renderer wrote for sceneClass.
// Manim nests output under media/videos/<file>/<quality>/<SceneClass>.mp4, so
// walk rather than guess the quality directory.
func findOutputFile(mediaDir, sceneClass string) (string, error) {
	want := sceneClass + ".mp4"
	var newest string
	var newestMod time.Time

	err := filepath.WalkDir(mediaDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Name() != want {
			return nil
		}
		// Skip partial movie segments.
		if strings.Contains(path, "partial_movie_files") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan media dir: %w", err)
	}
	if newest == "" {
		return "", fmt.Errorf("no output video found for scene %s under %s", sceneClass, mediaDir)
	}
	return newest, nil
}

// truncateOutput keeps the head and tail of oversized renderer output. The
// tail carries the traceback, the head the invocation context.
func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	head := max / 4
	tail := max - head
	return s[:head] + "\n[...output truncated...]\n" + s[len(s)-tail:]
}
