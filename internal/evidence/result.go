package evidence

import "time"

// Kind distinguishes command modules from file retrieval modules.
type Kind string

const (
	KindCommand  Kind = "command"
	KindFetch    Kind = "fetch"
	KindFetchDir Kind = "fetch_dir"
)

// FileCapture is one remote file retrieved by a directory fetch.
type FileCapture struct {
	// Remote is the path on the device.
	Remote string
	Data   []byte
	// Digest covers Data exactly as received.
	Digest string
	// Err is set when the file could not be read in full; Data then holds
	// the bytes that arrived before the failure.
	Err string
}

// ModuleResult is the outcome of one catalog entry in one run. It is built
// once by the runner and treated as read-only afterwards.
type ModuleResult struct {
	Name     string
	Category string
	Kind     Kind
	// Command is the rendered command line, or the remote path for fetches.
	Command string

	StartedAt time.Time
	EndedAt   time.Time

	Status   Status
	ExitCode int
	// Reason explains failures and skips in one line.
	Reason   string
	Attempts int

	Stdout []byte
	Stderr []byte
	// Files holds the tree retrieved by a directory fetch, sorted by path.
	Files []FileCapture

	// Digest covers Stdout exactly as received, or for a directory fetch
	// the TreeDigest of Files. StderrDigest covers Stderr.
	Digest       string
	StderrDigest string
}

// Size is the number of captured stdout bytes, plus every retrieved file
// for a directory fetch.
func (r ModuleResult) Size() int64 {
	n := int64(len(r.Stdout))
	for _, f := range r.Files {
		n += int64(len(f.Data))
	}
	return n
}

// Duration is the wall time spent on the module.
func (r ModuleResult) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Captured reports whether the result has content worth persisting: every
// command that ran to an exit status, plus any failure that buffered output.
func (r ModuleResult) Captured() bool {
	switch r.Status {
	case StatusSuccess, StatusNonZeroExit:
		return true
	case StatusCommandError, StatusTimeout, StatusSessionLost:
		return len(r.Stdout) > 0 || len(r.Files) > 0
	case StatusSkipped:
		return false
	}
	return false
}
