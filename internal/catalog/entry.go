package catalog

import (
	"strings"
	"time"
)

// Risk is the operator-facing cost/risk flag of an entry.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

func (r Risk) rank() int {
	switch r {
	case RiskLow, "":
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

// Exceeds reports whether r is riskier than limit. An empty limit allows all.
func (r Risk) Exceeds(limit Risk) bool {
	if limit == "" {
		return false
	}
	return r.rank() > limit.rank()
}

// Entry is one artifact definition.
type Entry struct {
	Name     string
	Category string
	// Command is run on the device; Args are appended POSIX-quoted.
	Command string
	Args    []string
	// Fetch names a remote file to retrieve instead of running a command.
	Fetch string
	// FetchDir names a remote directory whose files are all retrieved.
	FetchDir string
	// Timeout overrides the run default when non-zero.
	Timeout time.Duration
	// DependsOn names an earlier entry that must succeed first.
	DependsOn   string
	Risk        Risk
	SideEffects bool
}

// IsFetch reports whether the entry retrieves a file.
func (e *Entry) IsFetch() bool { return e.Fetch != "" }

// IsFetchDir reports whether the entry retrieves a directory tree.
func (e *Entry) IsFetchDir() bool { return e.FetchDir != "" }

// line builds the command line by appending arguments with safe shell
// quoting.
func (e *Entry) line() string {
	if len(e.Args) == 0 {
		return e.Command
	}
	quoted := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.TrimSpace(e.Command + " " + strings.Join(quoted, " "))
}

// EffectiveTimeout returns the per-entry timeout, falling back to def.
func (e *Entry) EffectiveTimeout(def time.Duration) time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return def
}
