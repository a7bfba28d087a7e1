package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// Catalog is an ordered, validated set of entries. It is read-only after
// loading.
type Catalog struct {
	Name        string
	Version     string
	Description string
	// Digest is "sha256:<hex>" over the source the catalog was loaded from.
	Digest  string
	Entries []Entry
}

// Identity is "name@version", or just the name when unversioned.
func (c *Catalog) Identity() string {
	if c.Version == "" {
		return c.Name
	}
	return c.Name + "@" + c.Version
}

// Lookup returns the entry called name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Error collects every problem found while loading or validating a catalog.
type Error struct {
	Source   string
	Problems []string
}

func (e *Error) Error() string {
	src := e.Source
	if src == "" {
		src = "catalog"
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", src, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems: %s", src, len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *Error) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether s can be used as an entry name or category. Such
// names double as bundle path segments.
func ValidName(s string) bool { return nameRe.MatchString(s) }

// Validate checks the whole catalog and returns a *Error listing every
// problem, or nil.
func (c *Catalog) Validate() error {
	cerr := &Error{Source: c.Identity()}
	if strings.TrimSpace(c.Name) == "" {
		cerr.add("name is required")
	}
	if len(c.Entries) == 0 {
		cerr.add("no entries")
	}
	seen := map[string]int{}
	for i, e := range c.Entries {
		at := fmt.Sprintf("entries[%d]", i)
		if e.Name != "" {
			at = fmt.Sprintf("entries[%d] %q", i, e.Name)
		}
		switch {
		case e.Name == "":
			cerr.add("%s: name is required", at)
		case !ValidName(e.Name):
			cerr.add("%s: name must match %s", at, nameRe)
		}
		if prev, dup := seen[e.Name]; dup && e.Name != "" {
			cerr.add("%s: duplicate name (first at entries[%d])", at, prev)
		} else {
			seen[e.Name] = i
		}
		switch {
		case e.Category == "":
			cerr.add("%s: category is required", at)
		case !ValidName(e.Category):
			cerr.add("%s: category must match %s", at, nameRe)
		}
		sources := 0
		for _, set := range []bool{strings.TrimSpace(e.Command) != "", e.IsFetch(), e.IsFetchDir()} {
			if set {
				sources++
			}
		}
		switch {
		case sources > 1:
			cerr.add("%s: command, fetch and fetch_dir are mutually exclusive", at)
		case sources == 0:
			cerr.add("%s: one of command, fetch or fetch_dir is required", at)
		case (e.IsFetch() || e.IsFetchDir()) && len(e.Args) > 0:
			cerr.add("%s: args are not allowed with fetch or fetch_dir", at)
		}
		if e.Timeout < 0 {
			cerr.add("%s: timeout must be positive", at)
		}
		if e.Risk.rank() < 0 {
			cerr.add("%s: risk %q is not one of low, medium, high", at, e.Risk)
		}
		for _, field := range append([]string{e.Command, e.Fetch, e.FetchDir}, e.Args...) {
			if bad := unknownPlaceholders(field); len(bad) > 0 {
				cerr.add("%s: unknown placeholder(s) %s (allowed: %s)", at,
					strings.Join(bad, ", "), strings.Join(Placeholders, ", "))
			}
		}
		if e.DependsOn != "" {
			switch prev, ok := seen[e.DependsOn]; {
			case e.DependsOn == e.Name:
				cerr.add("%s: depends_on refers to itself", at)
			case !ok || prev >= i:
				cerr.add("%s: depends_on %q must name an earlier entry", at, e.DependsOn)
			}
		}
	}
	if len(cerr.Problems) > 0 {
		return cerr
	}
	return nil
}
