package catalog

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Load reads a catalog from a YAML file or from a directory of command files
// and validates it. Any problem is reported as a *Error.
func Load(path string) (*Catalog, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Source: path, Problems: []string{err.Error()}}
	}
	if fi.IsDir() {
		return LoadDir(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Source: path, Problems: []string{err.Error()}}
	}
	c, err := Parse(b)
	if err != nil {
		if cerr, ok := err.(*Error); ok {
			cerr.Source = path
		}
		return nil, err
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(b []byte) (*Catalog, error) {
	cerr := &Error{}
	c, err := parseYAML(b, cerr)
	if err != nil {
		cerr.add("%v", err)
		return nil, cerr
	}
	c.Digest = sourceDigest(b)
	if verr := c.Validate(); verr != nil {
		cerr.Problems = append(cerr.Problems, verr.(*Error).Problems...)
	}
	if len(cerr.Problems) > 0 {
		cerr.Source = c.Identity()
		return nil, cerr
	}
	return c, nil
}

// LoadDir builds a catalog from every regular, non-hidden file in dir. The
// file stem is the category and each non-blank line not starting with '#' is
// one command. Entry names are derived from the command text.
func LoadDir(dir string) (*Catalog, error) {
	cerr := &Error{Source: dir}
	des, err := os.ReadDir(dir)
	if err != nil {
		cerr.add("%v", err)
		return nil, cerr
	}
	var files []string
	for _, de := range des {
		if de.Type().IsRegular() && !strings.HasPrefix(de.Name(), ".") {
			files = append(files, de.Name())
		}
	}
	sort.Strings(files)

	c := &Catalog{Name: filepath.Base(filepath.Clean(dir))}
	h := sha256.New()
	used := map[string]int{}
	for _, fn := range files {
		b, err := os.ReadFile(filepath.Join(dir, fn))
		if err != nil {
			cerr.add("%s: %v", fn, err)
			continue
		}
		_, _ = fmt.Fprintf(h, "%s\x00%d\x00", fn, len(b))
		h.Write(b)

		category := Slug(strings.TrimSuffix(fn, filepath.Ext(fn)))
		sc := bufio.NewScanner(bytes.NewReader(b))
		for n := 1; sc.Scan(); n++ {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			name := Slug(line)
			if name == "" {
				cerr.add("%s:%d: command %q yields no usable name", fn, n, line)
				continue
			}
			used[name]++
			if k := used[name]; k > 1 {
				name += "_" + strconv.Itoa(k)
			}
			c.Entries = append(c.Entries, Entry{Name: name, Category: category, Command: line})
		}
		if err := sc.Err(); err != nil {
			cerr.add("%s: %v", fn, err)
		}
	}
	c.Digest = "sha256:" + hex.EncodeToString(h.Sum(nil))
	if verr := c.Validate(); verr != nil {
		cerr.Problems = append(cerr.Problems, verr.(*Error).Problems...)
	}
	if len(cerr.Problems) > 0 {
		return nil, cerr
	}
	return c, nil
}

// Slug lowercases s and collapses every run of characters outside
// [a-z0-9.-] into a single underscore, trimming leading and trailing ones.
func Slug(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.'
		if !ok {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(r)
	}
	return strings.TrimLeft(b.String(), "._-")
}

func sourceDigest(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
