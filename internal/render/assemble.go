package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"scenesmith/internal/logging"
)

// commandContext is swapped out in tests.
var commandContext = exec.CommandContext

// Assembler concatenates rendered scene clips into the final video using
// ffmpeg's concat demuxer. Clips must share codec settings, which holds when
// they all come from the same renderer configuration.
type Assembler struct {
	command string
	timeout time.Duration
}

// NewAssembler builds an Assembler. command defaults to ffmpeg.
func NewAssembler(command string, timeout time.Duration) *Assembler {
	if command == "" {
		command = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Assembler{command: command, timeout: timeout}
}

// Assemble concatenates clips in order into outputPath. Empty clip paths are
// skipped so callers can pass the per-scene results directly, holes and all.
func (a *Assembler) Assemble(ctx context.Context, clips []string, outputPath string) error {
	var present []string
	for _, c := range clips {
		if c != "" {
			present = append(present, c)
		}
	}
	if len(present) == 0 {
		return fmt.Errorf("no rendered clips to assemble")
	}

	listPath, err := writeConcatList(present, filepath.Dir(outputPath))
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := runCommand(runCtx, a.command,
		"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", outputPath)
	if err != nil {
		return fmt.Errorf("assemble video: %w\n%s", err, out)
	}

	logging.Render("assembled %d clips into %s", len(present), outputPath)
	return nil
}

// writeConcatList writes the concat demuxer input file. Single quotes inside
// paths are escaped the way ffmpeg expects.
func writeConcatList(clips []string, dir string) (string, error) {
	var sb strings.Builder
	for _, c := range clips {
		abs, err := filepath.Abs(c)
		if err != nil {
			return "", fmt.Errorf("resolve clip path: %w", err)
		}
		sb.WriteString("file '" + strings.ReplaceAll(abs, "'", `'\''`) + "'\n")
	}

	f, err := os.CreateTemp(dir, "concat_*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := commandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
