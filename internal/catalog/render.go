package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Vars are the only values a command template may reference.
type Vars struct {
	Host  string
	Port  int
	User  string
	RunID string
}

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)
	safeValueRe   = regexp.MustCompile(`^[A-Za-z0-9._:@-]*$`)
)

// Placeholders lists the names accepted inside {{ }}.
var Placeholders = []string{"host", "port", "user", "run_id"}

func (v Vars) lookup(name string) (string, bool) {
	switch name {
	case "host":
		return v.Host, true
	case "port":
		return strconv.Itoa(v.Port), true
	case "user":
		return v.User, true
	case "run_id":
		return v.RunID, true
	}
	return "", false
}

// unknownPlaceholders returns the sorted placeholder names in s that are not
// part of the fixed set.
func unknownPlaceholders(s string) []string {
	var bad []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if _, ok := (Vars{}).lookup(m[1]); !ok && !seen[m[1]] {
			seen[m[1]] = true
			bad = append(bad, m[1])
		}
	}
	sort.Strings(bad)
	return bad
}

func expand(s string, v Vars) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		val, ok := v.lookup(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("unknown placeholder {{%s}}", name)
			}
			return m
		}
		if !safeValueRe.MatchString(val) {
			if firstErr == nil {
				firstErr = fmt.Errorf("value for {{%s}} contains unsafe characters", name)
			}
			return m
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Render returns the command line (or remote path, for fetch and fetch_dir
// entries) with placeholders substituted.
func (e *Entry) Render(v Vars) (string, error) {
	switch {
	case e.IsFetch():
		return expand(e.Fetch, v)
	case e.IsFetchDir():
		return expand(e.FetchDir, v)
	}
	cmd, err := expand(e.Command, v)
	if err != nil {
		return "", err
	}
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		if args[i], err = expand(a, v); err != nil {
			return "", err
		}
	}
	rendered := Entry{Command: cmd, Args: args}
	return rendered.line(), nil
}
