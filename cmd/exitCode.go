package cmd

import (
	"errors"

	"github.com/Linkavych/rOSac/internal/catalog"
	"github.com/Linkavych/rOSac/internal/evidence"
)

// Process exit codes.
const (
	exitOK      = 0
	exitGeneral = 1
	exitUsage   = 2
	exitPartial = 3
	exitAborted = 4
	exitFailed  = 5
)

// exitError carries the exit code a command wants alongside its cause. Err
// may be nil when the outcome has already been reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error { return &exitError{code: exitUsage, err: err} }

// exitCodeFor maps an error returned by a command to a process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var cerr *catalog.Error
	if errors.As(err, &cerr) {
		return exitUsage
	}
	return exitGeneral
}

// exitCodeForStatus maps a sealed run status to a process exit code.
func exitCodeForStatus(s evidence.RunStatus) int {
	switch s {
	case evidence.RunCompleted:
		return exitOK
	case evidence.RunPartial:
		return exitPartial
	case evidence.RunAborted:
		return exitAborted
	case evidence.RunFailed:
		return exitFailed
	}
	return exitGeneral
}
