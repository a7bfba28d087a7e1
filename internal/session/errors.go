package session

import (
	"errors"
	"fmt"
)

// ErrSessionLost reports that the transport to the device is gone. It is
// matched with errors.Is against *ExecutionError values of KindSessionLost.
var ErrSessionLost = errors.New("session lost")

// Reason classifies a failed connection attempt.
type Reason int

const (
	ReasonNetwork Reason = iota
	ReasonAuth
	ReasonHostKey
	ReasonConfig
)

func (r Reason) String() string {
	switch r {
	case ReasonNetwork:
		return "network"
	case ReasonAuth:
		return "authentication"
	case ReasonHostKey:
		return "host key"
	case ReasonConfig:
		return "configuration"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ConnectionError means no session could be established. Nothing was run.
type ConnectionError struct {
	Target string
	Reason Reason
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Target, e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Kind classifies a failed command.
type Kind int

const (
	// KindNonZeroExit is informational: the command ran and output is valid.
	KindNonZeroExit Kind = iota
	KindTimeout
	// KindChannelClosed means the channel ended without an exit status while
	// the connection stayed up.
	KindChannelClosed
	// KindCommandFailed covers channel setup and file retrieval failures.
	KindCommandFailed
	// KindSessionLost means the connection itself died.
	KindSessionLost
)

func (k Kind) String() string {
	switch k {
	case KindNonZeroExit:
		return "non-zero exit"
	case KindTimeout:
		return "timeout"
	case KindChannelClosed:
		return "channel closed"
	case KindCommandFailed:
		return "command failed"
	case KindSessionLost:
		return "session lost"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExecutionError describes why a command did not complete normally. The
// Result returned alongside it still carries whatever bytes arrived.
type ExecutionError struct {
	Kind     Kind
	Command  string
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("%q exited with status %d", e.Command, e.ExitCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%q: %s: %v", e.Command, e.Kind, e.Err)
		}
		return fmt.Sprintf("%q: %s", e.Command, e.Kind)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSessionLost) true for lost sessions.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrSessionLost && e.Kind == KindSessionLost
}
