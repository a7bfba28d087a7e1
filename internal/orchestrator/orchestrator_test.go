package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Linkavych/rOSac/internal/bundle"
	"github.com/Linkavych/rOSac/internal/catalog"
	"github.com/Linkavych/rOSac/internal/evidence"
	"github.com/Linkavych/rOSac/internal/logging"
	"github.com/Linkavych/rOSac/internal/session"
	"github.com/Linkavych/rOSac/internal/session/sessiontest"
)

var target = session.Target{Host: "192.0.2.10", Port: 22, User: "ir", DeviceClass: "routeros"}

func newCatalog(entries ...catalog.Entry) *catalog.Catalog {
	return &catalog.Catalog{Name: "test", Version: "1", Digest: "sha256:00", Entries: entries}
}

func cmdEntry(name string) catalog.Entry {
	return catalog.Entry{Name: name, Category: "system", Command: "/" + name + " print"}
}

// okDevice answers every cmdEntry(name) for the given names.
func okDevice(names ...string) *sessiontest.Device {
	d := &sessiontest.Device{Replies: map[string]sessiontest.Reply{}}
	for _, n := range names {
		d.Replies["/"+n+" print"] = sessiontest.Reply{Stdout: "output of " + n + "\r\n"}
	}
	return d
}

func newOrchestrator(t *testing.T, d session.Connector) *Orchestrator {
	t.Helper()
	return New(Options{
		Connector: d,
		OutDir:    t.TempDir(),
		Digest:    evidence.SHA256,
		Logger:    logging.Discard(),
		Version:   "test",
	})
}

func statuses(m *evidence.Manifest) []evidence.Status {
	var out []evidence.Status
	for _, r := range m.Snapshot() {
		out = append(out, r.Status)
	}
	return out
}

func names(m *evidence.Manifest) []string {
	var out []string
	for _, r := range m.Snapshot() {
		out = append(out, r.Name)
	}
	return out
}

func requirePersisted(t *testing.T, o *Orchestrator, m *evidence.Manifest) {
	t.Helper()
	onDisk, err := bundle.ReadManifest(o.BundleDir())
	require.NoError(t, err)
	require.Equal(t, m.Status, onDisk.Status)
	require.Equal(t, names(m), names(onDisk))
	rep, err := bundle.Verify(o.BundleDir())
	require.NoError(t, err)
	require.True(t, rep.OK(), "%+v", rep.Problems)
}

// TestExecute_AllSucceed verifies N successful modules in catalog order, the
// state path and that every recorded digest matches the bytes on disk.
func TestExecute_AllSucceed(t *testing.T) {
	all := []string{"identity", "resource", "routes", "users", "scripts"}
	d := okDevice(all...)
	var entries []catalog.Entry
	for _, n := range all {
		entries = append(entries, cmdEntry(n))
	}
	o := newOrchestrator(t, d)

	m, err := o.Execute(context.Background(), target, newCatalog(entries...))
	require.NoError(t, err)
	require.Equal(t, evidence.RunCompleted, m.Status)
	require.Equal(t, all, names(m))
	for _, st := range statuses(m) {
		require.Equal(t, evidence.StatusSuccess, st)
	}
	require.Equal(t, len(all), m.Counts[evidence.StatusSuccess])
	require.Equal(t, []State{StateIdle, StateConnecting, StateRunning, StateFinalizing, StateCompleted}, o.History())
	require.Equal(t, "test@1", m.Catalog.Identity)
	require.Equal(t, "routeros", m.Target.DeviceClass)

	for _, rec := range m.Snapshot() {
		b, err := os.ReadFile(filepath.Join(o.BundleDir(), filepath.FromSlash(rec.Path)))
		require.NoError(t, err)
		require.Equal(t, "output of "+rec.Name+"\r\n", string(b))
		require.Equal(t, rec.Digest, evidence.SHA256.Sum(b))
	}
	requirePersisted(t, o, m)
	require.Zero(t, d.Open(), "session must be closed")

	_, err = o.Execute(context.Background(), target, newCatalog(entries...))
	require.ErrorIs(t, err, ErrAlreadyRun)
}

// TestExecute_ContinuesPastModuleFailures verifies that timeouts and non-zero
// exits do not stop the run and that only non-zero exits still complete.
func TestExecute_ContinuesPastModuleFailures(t *testing.T) {
	d := okDevice("a", "d")
	d.Replies["/b print"] = sessiontest.Reply{Stdout: "half", Timeout: true}
	d.Replies["/c print"] = sessiontest.Reply{Stderr: "no such item\n", Exit: 1}
	o := newOrchestrator(t, d)

	m, err := o.Execute(context.Background(), target, newCatalog(cmdEntry("a"), cmdEntry("b"), cmdEntry("c"), cmdEntry("d")))
	require.NoError(t, err)
	require.Equal(t, evidence.RunCompleted, m.Status)
	require.Equal(t, []evidence.Status{
		evidence.StatusSuccess, evidence.StatusTimeout, evidence.StatusNonZeroExit, evidence.StatusSuccess,
	}, statuses(m))

	rec, _ := m.Record("b")
	require.Equal(t, "system/b.raw", rec.Path, "partial timeout output is kept")
	rec, _ = m.Record("c")
	require.True(t, rec.Stderr)
	requirePersisted(t, o, m)
}

// TestExecute_DependentSkippedUnlessPrerequisiteSucceeds verifies depends_on
// semantics and that skipped modules never reach the device.
func TestExecute_DependentSkippedUnlessPrerequisiteSucceeds(t *testing.T) {
	d := okDevice("ok", "after_ok")
	d.Replies["/fails print"] = sessiontest.Reply{Exit: 2}
	entries := []catalog.Entry{
		cmdEntry("ok"),
		cmdEntry("fails"),
		{Name: "after_ok", Category: "system", Command: "/after_ok print", DependsOn: "ok"},
		{Name: "after_fail", Category: "system", Command: "/after_fail print", DependsOn: "fails"},
		{Name: "chain", Category: "system", Command: "/chain print", DependsOn: "after_fail"},
	}
	o := newOrchestrator(t, d)
	m, err := o.Execute(context.Background(), target, newCatalog(entries...))
	require.NoError(t, err)
	require.Equal(t, []evidence.Status{
		evidence.StatusSuccess, evidence.StatusNonZeroExit, evidence.StatusSuccess,
		evidence.StatusSkipped, evidence.StatusSkipped,
	}, statuses(m))
	require.Equal(t, []string{"/ok print", "/fails print", "/after_ok print"}, d.Calls())

	rec, _ := m.Record("after_fail")
	require.Contains(t, rec.Reason, "prerequisite fails")
	require.Empty(t, rec.Path)
	requirePersisted(t, o, m)
}

// TestExecute_PolicySkips verifies side-effect and risk gating.
func TestExecute_PolicySkips(t *testing.T) {
	entries := []catalog.Entry{
		{Name: "backup_save", Category: "files", Command: "/system backup save name=rosac-{{run_id}}", SideEffects: true},
		{Name: "backup_fetch", Category: "files", Fetch: "rosac-{{run_id}}.backup", DependsOn: "backup_save"},
		{Name: "heavy", Category: "system", Command: "/heavy print", Risk: catalog.RiskHigh},
	}
	d := okDevice("heavy")
	o := newOrchestrator(t, d)
	o.opts.Policy = Policy{MaxRisk: catalog.RiskMedium}

	m, err := o.Execute(context.Background(), target, newCatalog(entries...))
	require.NoError(t, err)
	require.Equal(t, []evidence.Status{evidence.StatusSkipped, evidence.StatusSkipped, evidence.StatusSkipped}, statuses(m))
	rec, _ := m.Record("backup_save")
	require.Equal(t, "side effects not allowed", rec.Reason)
	rec, _ = m.Record("heavy")
	require.Contains(t, rec.Reason, "risk high")
	require.Empty(t, d.Calls())
}

// TestExecute_BackupWorkflow verifies save, fetch and cleanup chained by
// depends_on when side effects are allowed.
func TestExecute_BackupWorkflow(t *testing.T) {
	d := &sessiontest.Device{Replies: map[string]sessiontest.Reply{}, Files: map[string]string{}}
	entries := []catalog.Entry{
		{Name: "backup_save", Category: "files", Command: "/system backup save name=rosac-{{run_id}}", SideEffects: true},
		{Name: "backup_fetch", Category: "files", Fetch: "rosac-{{run_id}}.backup", DependsOn: "backup_save"},
		{Name: "backup_cleanup", Category: "files", Command: "/file remove rosac-{{run_id}}.backup", DependsOn: "backup_fetch", SideEffects: true},
	}
	o := newOrchestrator(t, d)
	o.opts.Policy.AllowSideEffects = true
	d.Before = func(cmd string) {
		id := filepath.Base(o.BundleDir())
		d.Replies["/system backup save name=rosac-"+id] = sessiontest.Reply{Stdout: "Configuration backup saved\r\n"}
		d.Replies["/file remove rosac-"+id+".backup"] = sessiontest.Reply{}
		d.Files["rosac-"+id+".backup"] = "\x00BACKUP\xff"
	}

	m, err := o.Execute(context.Background(), target, newCatalog(entries...))
	require.NoError(t, err)
	require.Equal(t, []evidence.Status{evidence.StatusSuccess, evidence.StatusSuccess, evidence.StatusSuccess}, statuses(m))
	rec, _ := m.Record("backup_fetch")
	require.Equal(t, evidence.KindFetch, rec.Kind)
	b, err := os.ReadFile(filepath.Join(o.BundleDir(), "files", "backup_fetch.raw"))
	require.NoError(t, err)
	require.Equal(t, "\x00BACKUP\xff", string(b))
}

// TestExecute_ReconnectReplaysOnce verifies that one lost session leads to a
// single replay of the in-flight module and the run resumes in order.
func TestExecute_ReconnectReplaysOnce(t *testing.T) {
	d := okDevice("a", "b", "c")
	d.Replies["/b print"] = sessiontest.Reply{Stdout: "b after reconnect", LoseSession: 1}
	o := newOrchestrator(t, d)

	m, err := o.Execute(context.Background(), target, newCatalog(cmdEntry("a"), cmdEntry("b"), cmdEntry("c")))
	require.NoError(t, err)
	require.Equal(t, evidence.RunCompleted, m.Status)
	require.Equal(t, []string{"/a print", "/b print", "/b print", "/c print"}, d.Calls())
	require.Equal(t, 2, d.Connects())
	rec, _ := m.Record("b")
	require.Equal(t, evidence.StatusSuccess, rec.Status)
	require.Equal(t, 2, rec.Attempts)
	requirePersisted(t, o, m)
}

// TestExecute_SecondLossFinalizesPartial verifies that losing the session
// again during the replay halts the run with earlier modules intact.
func TestExecute_SecondLossFinalizesPartial(t *testing.T) {
	d := okDevice("a", "b", "d")
	d.Replies["/c print"] = sessiontest.Reply{LoseSession: 2}
	o := newOrchestrator(t, d)

	m, err := o.Execute(context.Background(), target, newCatalog(cmdEntry("a"), cmdEntry("b"), cmdEntry("c"), cmdEntry("d")))
	require.ErrorIs(t, err, ErrSessionLost)
	require.Equal(t, evidence.RunPartial, m.Status)
	require.Equal(t, StateFailed, o.State())
	require.Equal(t, []State{StateIdle, StateConnecting, StateRunning, StateFailed}, o.History())
	require.Equal(t, []string{"a", "b", "c"}, names(m))
	rec, _ := m.Record("c")
	require.Equal(t, evidence.StatusSessionLost, rec.Status)
	require.Equal(t, 2, rec.Attempts)
	require.NotContains(t, d.Calls(), "/d print")

	for _, n := range []string{"a", "b"} {
		b, err := os.ReadFile(filepath.Join(o.BundleDir(), "system", n+".raw"))
		require.NoError(t, err)
		require.Equal(t, "output of "+n+"\r\n", string(b))
	}
	requirePersisted(t, o, m)
}

func TestExecute_ReconnectFailureFinalizesPartial(t *testing.T) {
	d := okDevice("a", "c")
	d.Replies["/b print"] = sessiontest.Reply{LoseSession: 1}
	d.Before = func(cmd string) {
		if cmd == "/b print" {
			d.ConnectErrs = []error{&session.ConnectionError{Target: "x", Reason: session.ReasonNetwork, Err: errors.New("no route to host")}}
		}
	}
	o := newOrchestrator(t, d)

	m, err := o.Execute(context.Background(), target, newCatalog(cmdEntry("a"), cmdEntry("b"), cmdEntry("c")))
	require.ErrorIs(t, err, ErrSessionLost)
	var ce *session.ConnectionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, evidence.RunPartial, m.Status)
	require.Equal(t, []string{"a", "b"}, names(m))
	requirePersisted(t, o, m)
	require.Zero(t, d.Open())
}

// TestExecute_CancelBetweenModules verifies that an abort after module 3
// leaves modules 1-3 recorded and 4-6 absent.
func TestExecute_CancelBetweenModules(t *testing.T) {
	all := []string{"m1", "m2", "m3", "m4", "m5", "m6"}
	d := okDevice(all...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Before = func(cmd string) {
		if cmd == "/m3 print" {
			cancel()
		}
	}
	var entries []catalog.Entry
	for _, n := range all {
		entries = append(entries, cmdEntry(n))
	}
	o := newOrchestrator(t, d)

	m, err := o.Execute(ctx, target, newCatalog(entries...))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, evidence.RunAborted, m.Status)
	require.Equal(t, []string{"m1", "m2", "m3"}, names(m))
	require.Equal(t, []evidence.Status{evidence.StatusSuccess, evidence.StatusSuccess, evidence.StatusSuccess}, statuses(m))
	require.Equal(t, StateAborted, o.State())
	require.Len(t, d.Calls(), 3)
	requirePersisted(t, o, m)
}

// TestExecute_ConnectionFailure verifies a Failed manifest with no modules is
// still written and nothing runs.
func TestExecute_ConnectionFailure(t *testing.T) {
	d := okDevice("a")
	d.ConnectErrs = []error{&session.ConnectionError{Target: "ir@192.0.2.10:22", Reason: session.ReasonAuth, Err: errors.New("unable to authenticate")}}
	o := newOrchestrator(t, d)

	m, err := o.Execute(context.Background(), target, newCatalog(cmdEntry("a")))
	var ce *session.ConnectionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, session.ReasonAuth, ce.Reason)
	require.Equal(t, evidence.RunFailed, m.Status)
	require.Empty(t, m.Snapshot())
	require.Contains(t, m.Error, "unable to authenticate")
	require.Equal(t, []State{StateIdle, StateConnecting, StateFailed}, o.History())
	require.Empty(t, d.Calls())
	requirePersisted(t, o, m)
}

// TestExecute_InvalidCatalogNeverConnects verifies that catalog problems are
// reported before any connection or bundle exists.
func TestExecute_InvalidCatalogNeverConnects(t *testing.T) {
	d := okDevice("a")
	o := newOrchestrator(t, d)
	bad := newCatalog(cmdEntry("a"), cmdEntry("a"))

	m, err := o.Execute(context.Background(), target, bad)
	require.Nil(t, m)
	var cerr *catalog.Error
	require.True(t, errors.As(err, &cerr))
	require.Zero(t, d.Connects())
	require.Empty(t, o.BundleDir())
	require.Equal(t, StateFailed, o.State())
}

// TestExecute_WriteErrorIsRecordedAndRunContinues verifies that failing to
// persist one artifact does not lose the others.
func TestExecute_WriteErrorIsRecordedAndRunContinues(t *testing.T) {
	d := okDevice("a", "b")
	o := newOrchestrator(t, d)
	d.Before = func(cmd string) {
		if cmd == "/a print" {
			require.NoError(t, os.WriteFile(filepath.Join(o.BundleDir(), "blocked"), []byte("x"), 0o600))
		}
	}
	a := cmdEntry("a")
	a.Category = "blocked"

	m, err := o.Execute(context.Background(), target, newCatalog(a, cmdEntry("b")))
	require.NoError(t, err)
	require.Equal(t, evidence.RunCompleted, m.Status)
	rec, _ := m.Record("a")
	require.NotEmpty(t, rec.WriteError)
	require.Empty(t, rec.Path)
	rec, _ = m.Record("b")
	require.Equal(t, "system/b.raw", rec.Path)
}

// TestRecord_DuplicateKeepsFirst verifies the integrity failure for a module
// name written twice.
func TestRecord_DuplicateKeepsFirst(t *testing.T) {
	w, err := bundle.Open(t.TempDir(), "run-dup", evidence.SHA256, logging.Discard())
	require.NoError(t, err)
	defer w.Close()
	o := New(Options{Logger: logging.Discard()})
	r := &run{
		manifest: evidence.NewManifest("run-dup", evidence.TargetInfo{}, evidence.CatalogInfo{}, evidence.CollectorInfo{}, evidence.SHA256, time.Now()),
		writer:   w,
		done:     map[string]evidence.Status{},
	}
	mk := func(body string) evidence.ModuleResult {
		return evidence.ModuleResult{Name: "x", Category: "system", Status: evidence.StatusSuccess, Attempts: 1,
			Stdout: []byte(body), Digest: evidence.SHA256.Sum([]byte(body))}
	}
	require.NoError(t, o.record(r, mk("first")))
	err = o.record(r, mk("second"))
	var dup *bundle.DuplicateArtifactError
	require.True(t, errors.As(err, &dup))
	b, err := os.ReadFile(filepath.Join(w.Root(), "system", "x.raw"))
	require.NoError(t, err)
	require.Equal(t, "first", string(b))
	require.Len(t, r.manifest.Snapshot(), 1)
}

func TestExecute_LimiterDeadlineAborts(t *testing.T) {
	d := okDevice("a", "b")
	o := newOrchestrator(t, d)
	o.opts.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, err := o.Execute(ctx, target, newCatalog(cmdEntry("a"), cmdEntry("b")))
	require.Error(t, err)
	require.Equal(t, evidence.RunAborted, m.Status)
	require.Equal(t, []string{"a"}, names(m))
}

func TestExecute_ArchiveAndBLAKE3(t *testing.T) {
	d := okDevice("a")
	o := newOrchestrator(t, d)
	o.opts.Archive = true
	o.opts.Digest = evidence.BLAKE3

	m, err := o.Execute(context.Background(), target, newCatalog(cmdEntry("a")))
	require.NoError(t, err)
	require.Equal(t, evidence.BLAKE3, m.DigestAlgorithm)
	require.Equal(t, o.BundleDir()+".tar.gz", o.ArchivePath())
	_, err = os.Stat(o.ArchivePath())
	require.NoError(t, err)
	requirePersisted(t, o, m)
}

// TestRunFleet_IndependentTargets verifies that one unreachable target does
// not affect the others and results follow target order.
func TestRunFleet_IndependentTargets(t *testing.T) {
	out := t.TempDir()
	devices := map[string]*sessiontest.Device{}
	var targets []session.Target
	for i := 0; i < 4; i++ {
		host := fmt.Sprintf("192.0.2.%d", i+1)
		d := okDevice("a", "b")
		if i == 2 {
			d.ConnectErrs = []error{&session.ConnectionError{Target: host, Reason: session.ReasonNetwork, Err: errors.New("timeout")}}
		}
		devices[host] = d
		targets = append(targets, session.Target{Host: host, User: "ir"})
	}
	newRun := func(t session.Target) *Orchestrator {
		return New(Options{Connector: devices[t.Host], OutDir: out, Logger: logging.Discard()})
	}

	results := RunFleet(context.Background(), targets, newCatalog(cmdEntry("a"), cmdEntry("b")), newRun, 2)
	require.Len(t, results, 4)
	for i, res := range results {
		require.Equal(t, targets[i].Host, res.Target.Host)
		require.NotEmpty(t, res.BundleDir)
		if i == 2 {
			require.Error(t, res.Err)
			require.Equal(t, evidence.RunFailed, res.Manifest.Status)
			continue
		}
		require.NoError(t, res.Err)
		require.Equal(t, evidence.RunCompleted, res.Manifest.Status)
		require.Len(t, res.Manifest.Snapshot(), 2)
	}
}

func TestStateTransitions(t *testing.T) {
	require.True(t, canMove(StateIdle, StateConnecting))
	require.True(t, canMove(StateRunning, StateFailed))
	require.False(t, canMove(StateCompleted, StateRunning))
	require.False(t, canMove(StateIdle, StateRunning))
	o := New(Options{})
	require.Panics(t, func() { o.move(StateCompleted) })
	for _, s := range []State{StateCompleted, StateAborted, StateFailed} {
		require.True(t, s.Terminal())
	}
	require.False(t, StateRunning.Terminal())
}
