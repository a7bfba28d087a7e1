package bundle

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	ManifestFile  = "manifest.yaml"
	JournalFile   = "journal.yaml"
	ChecksumsFile = "checksums.txt"

	rawExt    = ".raw"
	stderrExt = ".stderr"
)

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ArtifactPath returns the slash separated, bundle relative path for a
// module's stdout.
func ArtifactPath(category, name string) (string, error) {
	if err := checkSegment("category", category); err != nil {
		return "", err
	}
	if err := checkSegment("name", name); err != nil {
		return "", err
	}
	return path.Join(category, name+rawExt), nil
}

// StderrPath returns the bundle relative path for a module's stderr.
func StderrPath(category, name string) (string, error) {
	p, err := ArtifactPath(category, name)
	if err != nil {
		return "", err
	}
	return p[:len(p)-len(rawExt)] + stderrExt, nil
}

func checkSegment(field, s string) error {
	if !segmentRe.MatchString(s) || s == "." || s == ".." {
		return fmt.Errorf("%s %q is not a safe path segment", field, s)
	}
	return nil
}

// TreeDir returns the bundle relative directory that holds the files of a
// directory fetch.
func TreeDir(category, name string) (string, error) {
	if err := checkSegment("category", category); err != nil {
		return "", err
	}
	if err := checkSegment("name", name); err != nil {
		return "", err
	}
	return path.Join(category, name), nil
}

// safeSegment reduces a device file name to a segment checkSegment accepts.
func safeSegment(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
		default:
			b[i] = '_'
		}
	}
	out := strings.TrimLeft(string(b), "._-")
	if out == "" {
		return "file"
	}
	return out
}
