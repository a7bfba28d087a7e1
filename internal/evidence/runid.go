package evidence

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunIDTimeFormat is the UTC timestamp layout embedded in run identifiers.
const RunIDTimeFormat = "20060102T150405Z"

// NewRunID derives a unique run identifier from the target host and the run
// start time, e.g. "192.0.2.1-20240101T120000Z-1a2b3c4d". The random suffix
// keeps two runs started in the same second against the same host apart.
func NewRunID(host string, start time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return safeHost(host) + "-" + start.UTC().Format(RunIDTimeFormat) + "-" + suffix
}

// safeHost turns a host or address into a single path segment.
func safeHost(host string) string {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "target"
	}
	return s
}
