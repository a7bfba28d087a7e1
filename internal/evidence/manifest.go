package evidence

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Schema identifies the manifest layout.
const Schema = "rosac.manifest/v1"

// ErrSealed is returned when a sealed manifest is modified.
var ErrSealed = errors.New("manifest is sealed")

// TargetInfo describes the collected device. Credentials are never recorded.
type TargetInfo struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	DeviceClass string `yaml:"device_class,omitempty"`
}

// CatalogInfo identifies the catalog a run was driven by.
type CatalogInfo struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version,omitempty"`
	Identity string `yaml:"identity"`
	Digest   string `yaml:"digest"`
	Entries  int    `yaml:"entries"`
}

// CollectorInfo identifies the software and host that produced the bundle.
type CollectorInfo struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Hostname string `yaml:"hostname,omitempty"`
}

// Record is the manifest line for one module.
type Record struct {
	Name      string    `yaml:"name"`
	Category  string    `yaml:"category"`
	Kind      Kind      `yaml:"kind"`
	Command   string    `yaml:"command"`
	Status    Status    `yaml:"status"`
	Reason    string    `yaml:"reason,omitempty"`
	StartedAt time.Time `yaml:"started_at"`
	EndedAt   time.Time `yaml:"ended_at"`
	ExitCode  int       `yaml:"exit_code"`
	Attempts  int       `yaml:"attempts"`

	Path   string `yaml:"path,omitempty"`
	Bytes  int64  `yaml:"bytes"`
	Digest string `yaml:"digest"`

	Stderr       bool   `yaml:"stderr"`
	StderrPath   string `yaml:"stderr_path,omitempty"`
	StderrBytes  int64  `yaml:"stderr_bytes,omitempty"`
	StderrDigest string `yaml:"stderr_digest,omitempty"`

	// Files lists the tree of a directory fetch in path order.
	Files []FileRecord `yaml:"files,omitempty"`

	// WriteError is set when an artifact could not be persisted.
	WriteError string `yaml:"write_error,omitempty"`
}

// FileRecord is the manifest line for one file of a directory fetch.
type FileRecord struct {
	Remote string `yaml:"remote"`
	Path   string `yaml:"path,omitempty"`
	Bytes  int64  `yaml:"bytes"`
	Digest string `yaml:"digest"`
	// Error is a read failure on the device.
	Error      string `yaml:"error,omitempty"`
	WriteError string `yaml:"write_error,omitempty"`
}

// FileRecordOf summarizes one captured file. Path is filled in by the
// bundle writer.
func FileRecordOf(f FileCapture) FileRecord {
	return FileRecord{Remote: f.Remote, Bytes: int64(len(f.Data)), Digest: f.Digest, Error: f.Err}
}

// TreeDigest digests the "<digest>  <remote>" listing of files, in the order
// given. It binds a directory fetch to the exact set of files it returned.
func TreeDigest(alg Algorithm, files []FileRecord) string {
	h := alg.New()
	for _, f := range files {
		_, _ = fmt.Fprintf(h, "%s  %s\n", f.Digest, f.Remote)
	}
	return alg.Format(h.Sum(nil))
}

// RecordOf summarizes a result. Paths are filled in by the bundle writer.
func RecordOf(r ModuleResult) Record {
	rec := Record{
		Name:      r.Name,
		Category:  r.Category,
		Kind:      r.Kind,
		Command:   r.Command,
		Status:    r.Status,
		Reason:    r.Reason,
		StartedAt: r.StartedAt.UTC(),
		EndedAt:   r.EndedAt.UTC(),
		ExitCode:  r.ExitCode,
		Attempts:  r.Attempts,
		Bytes:     r.Size(),
		Digest:    r.Digest,
		Stderr:    len(r.Stderr) > 0,
	}
	if rec.Stderr {
		rec.StderrBytes = int64(len(r.Stderr))
		rec.StderrDigest = r.StderrDigest
	}
	for _, f := range r.Files {
		rec.Files = append(rec.Files, FileRecordOf(f))
	}
	return rec
}

// Manifest is the run manifest. It is built incrementally with Append and
// becomes immutable after Seal.
type Manifest struct {
	Schema          string         `yaml:"schema"`
	RunID           string         `yaml:"run_id"`
	Target          TargetInfo     `yaml:"target"`
	Catalog         CatalogInfo    `yaml:"catalog"`
	Collector       CollectorInfo  `yaml:"collector"`
	DigestAlgorithm Algorithm      `yaml:"digest_algorithm"`
	StartedAt       time.Time      `yaml:"started_at"`
	FinishedAt      time.Time      `yaml:"finished_at"`
	Duration        string         `yaml:"duration"`
	Status          RunStatus      `yaml:"status"`
	Error           string         `yaml:"error,omitempty"`
	Counts          map[Status]int `yaml:"counts"`
	Modules         []Record       `yaml:"modules"`

	mu     sync.Mutex
	sealed bool
	names  map[string]struct{}
}

// NewManifest starts an unsealed manifest.
func NewManifest(runID string, target TargetInfo, cat CatalogInfo, collector CollectorInfo, alg Algorithm, started time.Time) *Manifest {
	return &Manifest{
		Schema:          Schema,
		RunID:           runID,
		Target:          target,
		Catalog:         cat,
		Collector:       collector,
		DigestAlgorithm: alg.normalized(),
		StartedAt:       started.UTC(),
		Modules:         []Record{},
		names:           map[string]struct{}{},
	}
}

// Append adds the next module record. Records keep insertion order, which the
// orchestrator guarantees is catalog order.
func (m *Manifest) Append(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return ErrSealed
	}
	if m.names == nil {
		m.names = map[string]struct{}{}
	}
	if _, dup := m.names[r.Name]; dup {
		return fmt.Errorf("module %q already recorded", r.Name)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("module %q has invalid status %q", r.Name, r.Status)
	}
	m.names[r.Name] = struct{}{}
	m.Modules = append(m.Modules, r)
	return nil
}

// Seal stamps the final status and freezes the manifest.
func (m *Manifest) Seal(status RunStatus, finished time.Time, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return ErrSealed
	}
	if !status.Valid() {
		return fmt.Errorf("invalid run status %q", status)
	}
	m.Status = status
	m.FinishedAt = finished.UTC()
	m.Duration = m.FinishedAt.Sub(m.StartedAt).Round(time.Millisecond).String()
	if cause != nil {
		m.Error = cause.Error()
	}
	m.Counts = countStatuses(m.Modules)
	m.sealed = true
	return nil
}

// Sealed reports whether Seal has been called.
func (m *Manifest) Sealed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sealed
}

// Record returns the record for name.
func (m *Manifest) Record(name string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Modules {
		if r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}

// Snapshot returns a copy of the records appended so far.
func (m *Manifest) Snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.Modules))
	copy(out, m.Modules)
	return out
}

func countStatuses(records []Record) map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	for _, r := range records {
		counts[r.Status]++
	}
	return counts
}
