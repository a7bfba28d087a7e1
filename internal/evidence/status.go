package evidence

// Status is the terminal outcome of one module. The set is closed; every
// switch over Status in this repository lists all values.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusNonZeroExit  Status = "nonzero_exit"
	StatusCommandError Status = "command_error"
	StatusTimeout      Status = "timeout"
	StatusSessionLost  Status = "session_lost"
	StatusSkipped      Status = "skipped"
)

// Statuses lists every module status in report order.
var Statuses = []Status{
	StatusSuccess,
	StatusNonZeroExit,
	StatusCommandError,
	StatusTimeout,
	StatusSessionLost,
	StatusSkipped,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusNonZeroExit, StatusCommandError, StatusTimeout, StatusSessionLost, StatusSkipped:
		return true
	}
	return false
}

// Executed reports whether the module reached the device.
func (s Status) Executed() bool {
	switch s {
	case StatusSkipped:
		return false
	case StatusSuccess, StatusNonZeroExit, StatusCommandError, StatusTimeout, StatusSessionLost:
		return true
	}
	return false
}

// RunStatus is the overall outcome of a collection run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunAborted   RunStatus = "aborted"
	RunFailed    RunStatus = "failed"
)

// Valid reports whether r is one of the known run statuses.
func (r RunStatus) Valid() bool {
	switch r {
	case RunCompleted, RunPartial, RunAborted, RunFailed:
		return true
	}
	return false
}
