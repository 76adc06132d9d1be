package transcription

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
)

// Workspace is a per-job temporary directory. Every artifact created through
// Path is removed by Cleanup.
type Workspace struct {
	dir string

	mu    sync.Mutex
	files []string

	remove func(string) error
}

// NewWorkspace creates a fresh directory under base (os.TempDir when empty).
func NewWorkspace(base string) (*Workspace, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("create temp root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "transcribe-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir, remove: os.Remove}, nil
}

// Dir is the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path returns a tracked file path inside the workspace.
func (w *Workspace) Path(name string) string {
	p := filepath.Join(w.dir, filepath.Base(name))
	w.mu.Lock()
	w.files = append(w.files, p)
	w.mu.Unlock()
	return p
}

// Cleanup removes every tracked file and then the directory. A failed removal
// does not stop the rest; all failures are returned together.
func (w *Workspace) Cleanup() error {
	w.mu.Lock()
	files := w.files
	w.files = nil
	w.mu.Unlock()

	var errs error
	for _, f := range files {
		if err := w.remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs == nil {
		if err := os.RemoveAll(w.dir); err != nil {
			errs = multierr.Append(errs, err)
		}
	} else if err := w.remove(w.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// left behind with the files that could not be removed
		errs = multierr.Append(errs, err)
	}
	return errs
}
