// Package orchestrator drives one collection run: connect, run every catalog
// entry in order through the module runner, stream results into the bundle,
// and seal the manifest whatever happens.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Linkavych/rOSac/internal/bundle"
	"github.com/Linkavych/rOSac/internal/catalog"
	"github.com/Linkavych/rOSac/internal/evidence"
	"github.com/Linkavych/rOSac/internal/logging"
	"github.com/Linkavych/rOSac/internal/runner"
	"github.com/Linkavych/rOSac/internal/session"
)

// CollectorName is recorded in every manifest.
const CollectorName = "rosac"

// Options configure a run.
type Options struct {
	Connector session.Connector
	// OutDir receives <run_id>/ bundle directories.
	OutDir         string
	Digest         evidence.Algorithm
	DefaultTimeout time.Duration
	Policy         Policy
	// Limiter paces commands sent to the device; nil means unpaced.
	Limiter *rate.Limiter
	// Archive also writes <run_id>.tar.gz next to the bundle directory.
	Archive bool
	Clock   func() time.Time
	Logger  *slog.Logger
	Version string
}

// Orchestrator runs one collection. It is single use.
type Orchestrator struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	state   State
	history []State
	bundle  string
	archive string
}

// New returns an idle orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		opts:    opts,
		log:     logging.OrDefault(opts.Logger),
		state:   StateIdle,
		history: []State{StateIdle},
	}
}

// State is the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History lists every state entered, starting with StateIdle.
func (o *Orchestrator) History() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.history...)
}

// BundleDir is the bundle directory once Execute has opened it.
func (o *Orchestrator) BundleDir() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bundle
}

// ArchivePath is the tar.gz written when Options.Archive is set.
func (o *Orchestrator) ArchivePath() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.archive
}

func (o *Orchestrator) move(to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !canMove(o.state, to) {
		panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", o.state, to))
	}
	o.state = to
	o.history = append(o.history, to)
}

func (o *Orchestrator) now() time.Time {
	if o.opts.Clock != nil {
		return o.opts.Clock().UTC()
	}
	return time.Now().UTC()
}

// run is the mutable state of one Execute call.
type run struct {
	target   session.Target
	cat      *catalog.Catalog
	manifest *evidence.Manifest
	writer   *bundle.Writer
	runner   *runner.Runner
	sess     session.Session
	done     map[string]evidence.Status
	log      *slog.Logger
}

// outcome is how the module loop ended.
type outcome int

const (
	exhausted outcome = iota
	cancelled
	fatal
)

// Execute collects cat from target. The returned manifest is sealed and, once
// a bundle could be opened, persisted; it is nil only when the catalog is
// invalid or the bundle cannot be created. A non-nil error explains any run
// that did not complete: *catalog.Error, *session.ConnectionError,
// ErrSessionLost, a context error, or a bundle failure.
func (o *Orchestrator) Execute(ctx context.Context, target session.Target, cat *catalog.Catalog) (*evidence.Manifest, error) {
	if o.State() != StateIdle {
		return nil, ErrAlreadyRun
	}
	if o.opts.Connector == nil {
		o.move(StateFailed)
		return nil, errors.New("orchestrator: no connector configured")
	}
	if err := cat.Validate(); err != nil {
		o.move(StateFailed)
		return nil, err
	}

	started := o.now()
	runID := evidence.NewRunID(target.Host, started)
	log := o.log.With("run_id", runID, "target", target.String())
	alg := o.opts.Digest
	if alg == "" {
		alg = evidence.SHA256
	}

	w, err := bundle.Open(o.opts.OutDir, runID, alg, log)
	if err != nil {
		o.move(StateFailed)
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer func() { _ = w.Close() }()
	o.mu.Lock()
	o.bundle = w.Root()
	o.mu.Unlock()

	port := target.Port
	if port == 0 {
		port = session.DefaultPort
	}
	host, _ := os.Hostname()
	m := evidence.NewManifest(runID,
		evidence.TargetInfo{Host: target.Host, Port: port, User: target.User, DeviceClass: target.DeviceClass},
		evidence.CatalogInfo{Name: cat.Name, Version: cat.Version, Identity: cat.Identity(), Digest: cat.Digest, Entries: len(cat.Entries)},
		evidence.CollectorInfo{Name: CollectorName, Version: o.opts.Version, Hostname: host},
		alg, started)

	r := &run{
		target:   target,
		cat:      cat,
		manifest: m,
		writer:   w,
		runner: &runner.Runner{
			DefaultTimeout: o.opts.DefaultTimeout,
			Digest:         alg,
			Vars:           catalog.Vars{Host: target.Host, Port: port, User: target.User, RunID: runID},
			Clock:          o.opts.Clock,
			Logger:         log,
		},
		done: make(map[string]evidence.Status, len(cat.Entries)),
		log:  log,
	}

	o.move(StateConnecting)
	log.Info("collection started", "catalog", cat.Identity(), "entries", len(cat.Entries))
	sess, err := o.opts.Connector.Connect(ctx, target)
	if err != nil {
		final, status := StateFailed, evidence.RunFailed
		if ctx.Err() != nil {
			final, status = StateAborted, evidence.RunAborted
		}
		log.Error("connection failed", "error", err)
		if ferr := o.finish(r, status, err); ferr != nil {
			err = errors.Join(err, ferr)
		}
		o.move(final)
		return m, err
	}
	r.sess = sess
	defer func() {
		if r.sess != nil {
			_ = r.sess.Close()
		}
	}()

	o.move(StateRunning)
	how, cause := o.loop(ctx, r)

	switch how {
	case fatal:
		if ferr := o.finish(r, evidence.RunPartial, cause); ferr != nil {
			cause = errors.Join(cause, ferr)
		}
		o.move(StateFailed)
		log.Error("collection halted", "error", cause, "modules", len(m.Snapshot()))
		return m, cause
	case cancelled:
		o.move(StateFinalizing)
		if ferr := o.finish(r, evidence.RunAborted, cause); ferr != nil {
			o.move(StateFailed)
			return m, errors.Join(cause, ferr)
		}
		o.move(StateAborted)
		log.Warn("collection aborted", "modules", len(m.Snapshot()))
		return m, cause
	case exhausted:
		o.move(StateFinalizing)
		if ferr := o.finish(r, evidence.RunCompleted, nil); ferr != nil {
			o.move(StateFailed)
			return m, ferr
		}
		o.move(StateCompleted)
		log.Info("collection completed", "modules", len(m.Snapshot()), "bundle", w.Root())
		return m, nil
	}
	return m, fmt.Errorf("orchestrator: unknown outcome %d", how)
}

// loop runs entries strictly in catalog order. Cancellation is only observed
// between modules.
func (o *Orchestrator) loop(ctx context.Context, r *run) (outcome, error) {
	for _, e := range r.cat.Entries {
		if err := ctx.Err(); err != nil {
			return cancelled, err
		}
		if reason := o.opts.Policy.skipReason(e, r.done); reason != "" {
			if err := o.record(r, r.runner.Skip(e, reason)); err != nil {
				return fatal, err
			}
			continue
		}
		if o.opts.Limiter != nil {
			if err := o.opts.Limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return cancelled, ctx.Err()
				}
				return cancelled, err
			}
		}

		res := r.runner.Run(ctx, e, r.sess)
		if res.Status == evidence.StatusSessionLost {
			var err error
			res, err = o.recover(ctx, r, e, res)
			if err != nil {
				if rerr := o.record(r, res); rerr != nil {
					err = errors.Join(err, rerr)
				}
				if ctx.Err() != nil {
					return cancelled, err
				}
				return fatal, err
			}
		}
		if err := o.record(r, res); err != nil {
			return fatal, err
		}
	}
	return exhausted, nil
}

// recover reconnects once and replays the interrupted module once. It fails
// when the reconnect fails or the replay loses the session again.
func (o *Orchestrator) recover(ctx context.Context, r *run, e catalog.Entry, lost evidence.ModuleResult) (evidence.ModuleResult, error) {
	r.log.Warn("session lost, reconnecting", "module", e.Name, "reason", lost.Reason)
	_ = r.sess.Close()
	r.sess = nil

	sess, err := o.opts.Connector.Connect(ctx, r.target)
	if err != nil {
		return lost, fmt.Errorf("%w during %s; reconnect failed: %w", ErrSessionLost, e.Name, err)
	}
	r.sess = sess
	replay := r.runner.Run(ctx, e, sess)
	replay.Attempts = lost.Attempts + 1
	if replay.Status == evidence.StatusSessionLost {
		return replay, fmt.Errorf("%w again while replaying %s", ErrSessionLost, e.Name)
	}
	r.log.Info("session restored", "module", e.Name, "status", string(replay.Status))
	return replay, nil
}

// record hands res to the bundle and the manifest. A per-artifact write
// failure is kept in the record and the run goes on; a duplicate name is an
// integrity failure that halts the run.
func (o *Orchestrator) record(r *run, res evidence.ModuleResult) error {
	rec, err := r.writer.WriteModule(res)
	var dup *bundle.DuplicateArtifactError
	switch {
	case errors.As(err, &dup):
		return err
	case errors.Is(err, bundle.ErrClosed):
		return err
	}
	if aerr := r.manifest.Append(rec); aerr != nil {
		return aerr
	}
	r.done[res.Name] = res.Status
	return nil
}

// finish seals the manifest and writes it plus the optional archive.
func (o *Orchestrator) finish(r *run, status evidence.RunStatus, cause error) error {
	if err := r.manifest.Seal(status, o.now(), cause); err != nil {
		return err
	}
	if err := r.writer.Finalize(r.manifest); err != nil {
		return fmt.Errorf("finalize bundle: %w", err)
	}
	if !o.opts.Archive {
		return nil
	}
	dest := r.writer.Root() + ".tar.gz"
	if err := bundle.Archive(r.writer.Root(), dest); err != nil {
		return fmt.Errorf("archive bundle: %w", err)
	}
	o.mu.Lock()
	o.archive = dest
	o.mu.Unlock()
	return nil
}
