package orchestrator

import "fmt"

// State is the lifecycle position of one run.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateFinalizing
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateAborted, StateFailed:
		return true
	case StateIdle, StateConnecting, StateRunning, StateFinalizing:
		return false
	}
	return false
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateFailed},
	StateConnecting: {StateRunning, StateAborted, StateFailed},
	StateRunning:    {StateFinalizing, StateFailed},
	StateFinalizing: {StateCompleted, StateAborted, StateFailed},
}

func canMove(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
