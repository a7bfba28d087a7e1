package bundle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Linkavych/rOSac/internal/evidence"
)

// Problem is one integrity finding.
type Problem struct {
	Path  string `yaml:"path"`
	Issue string `yaml:"issue"`
}

// Report is the outcome of Verify.
type Report struct {
	RunID    string             `yaml:"run_id"`
	Status   evidence.RunStatus `yaml:"status"`
	Checked  int                `yaml:"checked"`
	Problems []Problem          `yaml:"problems,omitempty"`
	// Notes name modules the manifest itself records as not persisted.
	// They are not integrity problems.
	Notes []Problem `yaml:"notes,omitempty"`
}

// OK reports whether no problems were found.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

// ReadManifest loads the manifest of the bundle at dir.
func ReadManifest(dir string) (*evidence.Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	m := &evidence.Manifest{}
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Schema != evidence.Schema {
		return nil, fmt.Errorf("unsupported manifest schema %q", m.Schema)
	}
	return m, nil
}

// Verify recomputes every artifact digest of the bundle at dir against its
// manifest and reports mismatches, missing artifacts and files the manifest
// does not list. The error is non-nil only when the manifest is unreadable.
func Verify(dir string) (*Report, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	rep := &Report{RunID: m.RunID, Status: m.Status}
	listed := map[string]struct{}{
		ManifestFile:  {},
		JournalFile:   {},
		ChecksumsFile: {},
	}

	check := func(rel, want string, size int64) {
		listed[rel] = struct{}{}
		rep.Checked++
		alg, _, err := evidence.SplitDigest(want)
		if err != nil {
			rep.Problems = append(rep.Problems, Problem{rel, err.Error()})
			return
		}
		got, n, err := digestFile(filepath.Join(dir, filepath.FromSlash(rel)), alg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			rep.Problems = append(rep.Problems, Problem{rel, "missing"})
		case err != nil:
			rep.Problems = append(rep.Problems, Problem{rel, err.Error()})
		case got != want:
			rep.Problems = append(rep.Problems, Problem{rel, fmt.Sprintf("digest %s, manifest %s", got, want)})
		case n != size:
			rep.Problems = append(rep.Problems, Problem{rel, fmt.Sprintf("size %d, manifest %d", n, size)})
		}
	}

	for _, r := range m.Modules {
		if r.Path != "" {
			check(r.Path, r.Digest, r.Bytes)
		}
		if r.StderrPath != "" {
			check(r.StderrPath, r.StderrDigest, r.StderrBytes)
		}
		for _, f := range r.Files {
			if f.Path != "" {
				check(f.Path, f.Digest, f.Bytes)
			}
		}
		if r.Kind == evidence.KindFetchDir && r.Digest != "" {
			alg, _, err := evidence.SplitDigest(r.Digest)
			if err == nil && evidence.TreeDigest(alg, r.Files) != r.Digest {
				rep.Problems = append(rep.Problems, Problem{ManifestFile, fmt.Sprintf("module %s: file list does not match its digest", r.Name)})
			}
		}
		if r.WriteError != "" {
			first, _, _ := strings.Cut(r.WriteError, "\n")
			rep.Notes = append(rep.Notes, Problem{r.Name, "not persisted: " + first})
		}
	}

	var extra []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if _, ok := listed[filepath.ToSlash(rel)]; !ok {
			extra = append(extra, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		rep.Problems = append(rep.Problems, Problem{".", err.Error()})
	}
	sort.Strings(extra)
	for _, e := range extra {
		rep.Problems = append(rep.Problems, Problem{e, "not listed in manifest"})
	}
	return rep, nil
}

func digestFile(p string, alg evidence.Algorithm) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := alg.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", n, err
	}
	return alg.Format(h.Sum(nil)), n, nil
}
