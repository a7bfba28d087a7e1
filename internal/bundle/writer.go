package bundle

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Linkavych/rOSac/internal/evidence"
	"github.com/Linkavych/rOSac/internal/logging"
)

const (
	dirMode  os.FileMode = 0o750
	fileMode os.FileMode = 0o440
)

// Writer owns one bundle directory for the lifetime of a run.
type Writer struct {
	root string
	alg  evidence.Algorithm
	log  *slog.Logger

	mu        sync.Mutex
	written   map[string]string
	records   []evidence.Record
	journal   *os.File
	closed    bool
	finalized bool
}

// Open creates <baseDir>/<runID> and starts its journal. It fails if the
// directory already exists so a previous bundle is never mixed into.
func Open(baseDir, runID string, alg evidence.Algorithm, log *slog.Logger) (*Writer, error) {
	if err := checkSegment("run id", runID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, dirMode); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	root := filepath.Join(baseDir, runID)
	if err := os.Mkdir(root, dirMode); err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}
	j, err := os.OpenFile(filepath.Join(root, JournalFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}
	return &Writer{
		root:    root,
		alg:     alg,
		log:     logging.OrDefault(log),
		written: map[string]string{},
		journal: j,
	}, nil
}

// Root is the bundle directory.
func (w *Writer) Root() string { return w.root }

// WriteModule persists a module's captured bytes and journals its record.
// The returned record carries artifact paths, or WriteError when persisting
// failed; in that case the error is a *WriteError and the caller may go on
// with the next module. Stdout, stderr and every file of a directory fetch
// are each attempted even when an earlier one failed. A repeated module
// name yields *DuplicateArtifactError and leaves the first artifact
// untouched.
func (w *Writer) WriteModule(res evidence.ModuleResult) (evidence.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := evidence.RecordOf(res)
	if w.closed {
		return rec, ErrClosed
	}
	if prev, dup := w.written[res.Name]; dup {
		return rec, &DuplicateArtifactError{Name: res.Name, Path: prev}
	}
	w.written[res.Name] = ""

	var fails []failure
	switch {
	case res.Kind == evidence.KindFetchDir:
		if res.Captured() {
			fails = w.writeTree(res, &rec)
		}
	case res.Captured():
		p, err := ArtifactPath(res.Category, res.Name)
		if err == nil {
			w.written[res.Name] = p
			err = w.writeFile(p, res.Stdout, res.Digest)
		}
		if err != nil {
			fails = append(fails, failure{p, err})
		} else {
			rec.Path = p
		}
	}

	if len(res.Stderr) > 0 {
		p, err := StderrPath(res.Category, res.Name)
		if err == nil {
			err = w.writeFile(p, res.Stderr, res.StderrDigest)
		}
		if err != nil {
			fails = append(fails, failure{p, err})
		} else {
			rec.StderrPath = p
		}
	}

	var writeErr error
	if len(fails) > 0 {
		writeErr = newWriteError(res.Name, fails)
		rec.WriteError = writeErr.Error()
		w.log.Error("artifact write failed", "module", res.Name, "error", writeErr)
	}
	if err := w.appendJournal(rec); err != nil && writeErr == nil {
		w.log.Error("journal append failed", "module", res.Name, "error", err)
		writeErr = &WriteError{Name: res.Name, Path: JournalFile, Err: err}
		rec.WriteError = writeErr.Error()
	}
	w.records = append(w.records, rec)
	return rec, writeErr
}

// writeTree writes the files of a directory fetch below TreeDir and fills
// rec.Files with their bundle paths. A file that could not be read on the
// device is written only if some of its bytes arrived.
func (w *Writer) writeTree(res evidence.ModuleResult, rec *evidence.Record) []failure {
	dir, err := TreeDir(res.Category, res.Name)
	if err != nil {
		return []failure{{"", err}}
	}
	w.written[res.Name] = dir
	layout := newTreeLayout(dir, res.Command)
	var fails []failure
	for i, f := range res.Files {
		if f.Err != "" && len(f.Data) == 0 {
			continue
		}
		p := layout.file(f.Remote)
		if err := w.writeFile(p, f.Data, f.Digest); err != nil {
			rec.Files[i].WriteError = err.Error()
			fails = append(fails, failure{p, err})
			continue
		}
		rec.Files[i].Path = p
	}
	return fails
}

// writeFile creates rel exclusively, writes b, syncs, and checks that the
// bytes on their way to disk hash to want. A file it created is removed
// again when any later step fails, so a failed write leaves nothing behind
// that the manifest does not list.
func (w *Writer) writeFile(rel string, b []byte, want string) (err error) {
	full := filepath.Join(w.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), dirMode); err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rmErr := os.Remove(full); rmErr != nil {
				err = errors.Join(err, fmt.Errorf("remove partial file: %w", rmErr))
			}
		}
	}()
	h := w.alg.New()
	if _, err := io.Copy(io.MultiWriter(f, h), bytes.NewReader(b)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if got := w.alg.Format(h.Sum(nil)); want != "" && got != want {
		return fmt.Errorf("digest mismatch: wrote %s, captured %s", got, want)
	}
	return nil
}

func (w *Writer) appendJournal(rec evidence.Record) error {
	b, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(b)+4)
	buf = append(buf, "---\n"...)
	buf = append(buf, b...)
	if _, err := w.journal.Write(buf); err != nil {
		return err
	}
	return w.journal.Sync()
}

// Finalize writes checksums and the sealed manifest, then closes the bundle.
func (w *Writer) Finalize(m *evidence.Manifest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if !m.Sealed() {
		return errors.New("manifest must be sealed before finalize")
	}

	var errs []error
	if err := w.writeChecksums(m.Snapshot()); err != nil {
		errs = append(errs, fmt.Errorf("write checksums: %w", err))
	}
	if err := w.writeManifest(m); err != nil {
		errs = append(errs, fmt.Errorf("write manifest: %w", err))
	}
	if err := w.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	w.closed = true
	w.finalized = len(errs) == 0
	return errors.Join(errs...)
}

func (w *Writer) writeManifest(m *evidence.Manifest) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return w.createFile(ManifestFile, buf.Bytes())
}

func (w *Writer) writeChecksums(records []evidence.Record) error {
	type line struct{ path, digest string }
	var lines []line
	for _, r := range records {
		if r.Path != "" {
			lines = append(lines, line{r.Path, r.Digest})
		}
		if r.StderrPath != "" {
			lines = append(lines, line{r.StderrPath, r.StderrDigest})
		}
		for _, f := range r.Files {
			if f.Path != "" {
				lines = append(lines, line{f.Path, f.Digest})
			}
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].path < lines[j].path })

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	for _, l := range lines {
		_, hexsum, err := evidence.SplitDigest(l.digest)
		if err != nil {
			return fmt.Errorf("%s: %w", l.path, err)
		}
		_, _ = fmt.Fprintf(bw, "%s  %s\n", hexsum, l.path)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return w.createFile(ChecksumsFile, buf.Bytes())
}

func (w *Writer) createFile(name string, b []byte) error {
	f, err := os.OpenFile(filepath.Join(w.root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Close releases the bundle without writing a manifest. It is a no-op after
// Finalize and safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.log.Warn("bundle closed without manifest", "bundle", w.root, "modules", len(w.records))
	return w.journal.Close()
}

// Finalized reports whether Finalize completed without error.
func (w *Writer) Finalized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalized
}

// Written lists module names handed to the writer so far, in order.
func (w *Writer) Written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.records))
	for _, r := range w.records {
		out = append(out, r.Name)
	}
	return out
}
