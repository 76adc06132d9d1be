package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Binary is the ffmpeg executable; tests and odd installs may override it.
var Binary = "ffmpeg"

// Available reports whether ffmpeg and ffprobe are on PATH.
func Available() bool {
	if _, err := exec.LookPath(Binary); err != nil {
		return false
	}
	_, err := exec.LookPath(ProbeBinary)
	return err == nil
}

// RunResult contains the outcome of an ffmpeg invocation, including captured stderr.
type RunResult struct {
	// Logs is the full ffmpeg stderr output, available regardless of success.
	Logs string
	// Err is non-nil when ffmpeg exited with a non-zero status.
	Err error
}

func run(ctx context.Context, args []string) error {
	return runCapture(ctx, args).Err
}

func runCapture(ctx context.Context, args []string) RunResult {
	cmd := exec.CommandContext(ctx, Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return RunResult{
			Logs: stderr.String(),
			Err:  &Error{Args: args, Stderr: stderr.String(), Err: err},
		}
	}
	return RunResult{Logs: stderr.String()}
}

// Error represents an ffmpeg execution error with context.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

// Error implements error with only the last few stderr lines.
func (e *Error) Error() string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	if lastLines := strings.Join(lines, "\n"); lastLines != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, lastLines)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Command returns the command that was executed.
func (e *Error) Command() string {
	return Binary + " " + strings.Join(e.Args, " ")
}
