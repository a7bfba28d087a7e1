package orchestrator

import (
	"errors"

	"github.com/Linkavych/rOSac/internal/session"
)

// ErrSessionLost marks a run halted because the device connection could not
// be kept or restored.
var ErrSessionLost = session.ErrSessionLost

// ErrAlreadyRun is returned when Execute is called on a used Orchestrator.
var ErrAlreadyRun = errors.New("orchestrator: execute called more than once")
