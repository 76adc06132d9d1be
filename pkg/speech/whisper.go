package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WhisperOptions configures the openai-whisper command line tool.
type WhisperOptions struct {
	Command  string
	Model    string
	Device   string
	Language string
	// ExtraArgs are appended verbatim.
	ExtraArgs []string
}

// Whisper runs a local whisper install. It only implements Transcriber.
type Whisper struct {
	opts WhisperOptions
}

func NewWhisper(opts WhisperOptions) *Whisper {
	if opts.Command == "" {
		opts.Command = "whisper"
	}
	if opts.Model == "" {
		opts.Model = "small"
	}
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	return &Whisper{opts: opts}
}

// Available reports whether the whisper binary is on PATH.
func (w *Whisper) Available() bool {
	_, err := exec.LookPath(w.opts.Command)
	return err == nil
}

func (w *Whisper) Transcribe(ctx context.Context, audio Audio, format Format) (string, error) {
	cmdPath, err := exec.LookPath(w.opts.Command)
	if err != nil {
		return "", fmt.Errorf("whisper: command not found: %w", err)
	}

	outDir, err := os.MkdirTemp("", "whisper-out-*")
	if err != nil {
		return "", fmt.Errorf("whisper: temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			slog.Warn("whisper output cleanup failed", "dir", outDir, "error", err)
		}
	}()

	outputFormat := "txt"
	if format == FormatVTT {
		outputFormat = "vtt"
	}

	args := w.args(audio.Path, outputFormat, outDir)
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("whisper failed: %w (output=%s)", err, tail(buf.String(), 3))
	}

	base := strings.TrimSuffix(filepath.Base(audio.Path), filepath.Ext(audio.Path))
	out := filepath.Join(outDir, base+"."+outputFormat)
	if _, err := os.Stat(out); err != nil {
		matches, _ := filepath.Glob(filepath.Join(outDir, "*."+outputFormat))
		if len(matches) == 0 {
			return "", fmt.Errorf("whisper output not found in %s", outDir)
		}
		out = matches[0]
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return "", fmt.Errorf("whisper: read output: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}

func (w *Whisper) args(input, outputFormat, outDir string) []string {
	args := []string{
		input,
		"--model", w.opts.Model,
		"--output_format", outputFormat,
		"--output_dir", outDir,
		"--device", w.opts.Device,
		"--task", "transcribe",
	}
	if w.opts.Language != "" {
		args = append(args, "--language", w.opts.Language)
	}
	return append(args, w.opts.ExtraArgs...)
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
