package bundle

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when a finalized or closed bundle is written to.
var ErrClosed = errors.New("bundle is closed")

// DuplicateArtifactError reports a second write for a module name.
type DuplicateArtifactError struct {
	Name string
	Path string
}

func (e *DuplicateArtifactError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("duplicate artifact %q (%s)", e.Name, e.Path)
	}
	return fmt.Sprintf("duplicate artifact %q", e.Name)
}

// WriteError reports an I/O failure persisting one artifact.
type WriteError struct {
	Name string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write artifact %q to %s: %v", e.Name, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// failure is one artifact of a module that could not be persisted.
type failure struct {
	path string
	err  error
}

// newWriteError folds every failure of one module into a single error.
// Path names the first failing artifact.
func newWriteError(name string, fails []failure) *WriteError {
	if len(fails) == 1 {
		return &WriteError{Name: name, Path: fails[0].path, Err: fails[0].err}
	}
	errs := make([]error, len(fails))
	for i, f := range fails {
		errs[i] = fmt.Errorf("%s: %w", f.path, f.err)
	}
	return &WriteError{Name: name, Path: fails[0].path, Err: errors.Join(errs...)}
}
