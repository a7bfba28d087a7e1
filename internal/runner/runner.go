// Package runner executes one catalog entry against a remote session and
// turns whatever happened into exactly one evidence.ModuleResult.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Linkavych/rOSac/internal/catalog"
	"github.com/Linkavych/rOSac/internal/evidence"
	"github.com/Linkavych/rOSac/internal/logging"
	"github.com/Linkavych/rOSac/internal/session"
)

// DefaultTimeout applies to entries without their own timeout.
const DefaultTimeout = 60 * time.Second

// Runner holds the per-run settings shared by every module.
type Runner struct {
	DefaultTimeout time.Duration
	Digest         evidence.Algorithm
	Vars           catalog.Vars
	// Clock defaults to time.Now; tests pin it.
	Clock  func() time.Time
	Logger *slog.Logger
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) timeout(e catalog.Entry) time.Duration {
	def := r.DefaultTimeout
	if def <= 0 {
		def = DefaultTimeout
	}
	return e.EffectiveTimeout(def)
}

func (r *Runner) algorithm() evidence.Algorithm {
	if r.Digest == "" {
		return evidence.SHA256
	}
	return r.Digest
}

func base(e catalog.Entry) evidence.ModuleResult {
	kind := evidence.KindCommand
	switch {
	case e.IsFetch():
		kind = evidence.KindFetch
	case e.IsFetchDir():
		kind = evidence.KindFetchDir
	}
	return evidence.ModuleResult{Name: e.Name, Category: e.Category, Kind: kind, ExitCode: -1}
}

// Skip records e as skipped without touching the device.
func (r *Runner) Skip(e catalog.Entry, reason string) evidence.ModuleResult {
	res := base(e)
	now := r.now()
	res.StartedAt, res.EndedAt = now, now
	res.Status = evidence.StatusSkipped
	res.Reason = reason
	res.Command, _ = e.Render(r.Vars)
	r.logResult(res)
	return res
}

// Run executes e on sess. It never returns an error and never panics: every
// outcome, including a broken session, is encoded in the result. Cancelling
// ctx does not interrupt a command already sent to the device.
func (r *Runner) Run(ctx context.Context, e catalog.Entry, sess session.Session) (res evidence.ModuleResult) {
	res = base(e)
	res.StartedAt = r.now()
	res.Attempts = 1
	defer func() {
		if p := recover(); p != nil {
			res.Status = evidence.StatusCommandError
			res.Reason = fmt.Sprintf("panic: %v", p)
			res.EndedAt = r.now()
			r.seal(&res)
			r.logResult(res)
		}
	}()

	line, err := e.Render(r.Vars)
	if err != nil {
		res.EndedAt = r.now()
		res.Status = evidence.StatusCommandError
		res.Reason = "render: " + err.Error()
		r.seal(&res)
		r.logResult(res)
		return res
	}
	res.Command = line

	run := context.WithoutCancel(ctx)
	var out session.Result
	switch {
	case e.IsFetch():
		out, err = sess.Fetch(run, line, r.timeout(e))
	case e.IsFetchDir():
		out, err = sess.FetchDir(run, line, r.timeout(e))
	default:
		out, err = sess.Execute(run, line, r.timeout(e))
	}
	res.EndedAt = r.now()
	res.Stdout = out.Stdout
	res.Stderr = out.Stderr
	res.ExitCode = out.ExitCode
	res.Files = captures(out.Files)
	res.Status, res.Reason = classify(err)
	if res.Status == evidence.StatusSuccess {
		res.ExitCode = 0
		if n := unreadable(res.Files); n > 0 {
			res.Reason = fmt.Sprintf("%d of %d files unreadable", n, len(res.Files))
		}
	}
	r.seal(&res)
	r.logResult(res)
	return res
}

// classify maps a session error onto a module status.
func classify(err error) (evidence.Status, string) {
	if err == nil {
		return evidence.StatusSuccess, ""
	}
	var ee *session.ExecutionError
	if !errors.As(err, &ee) {
		return evidence.StatusCommandError, err.Error()
	}
	switch ee.Kind {
	case session.KindNonZeroExit:
		return evidence.StatusNonZeroExit, fmt.Sprintf("exit status %d", ee.ExitCode)
	case session.KindTimeout:
		return evidence.StatusTimeout, ee.Error()
	case session.KindChannelClosed, session.KindCommandFailed:
		return evidence.StatusCommandError, ee.Error()
	case session.KindSessionLost:
		return evidence.StatusSessionLost, ee.Error()
	}
	return evidence.StatusCommandError, ee.Error()
}

func captures(files []session.RemoteFile) []evidence.FileCapture {
	if len(files) == 0 {
		return nil
	}
	out := make([]evidence.FileCapture, len(files))
	for i, f := range files {
		out[i] = evidence.FileCapture{Remote: f.Path, Data: f.Data}
		if f.Err != nil {
			out[i].Err = f.Err.Error()
		}
	}
	return out
}

func unreadable(files []evidence.FileCapture) int {
	n := 0
	for _, f := range files {
		if f.Err != "" {
			n++
		}
	}
	return n
}

// seal computes digests over the exact captured bytes. A directory fetch
// is digested as its tree listing.
func (r *Runner) seal(res *evidence.ModuleResult) {
	alg := r.algorithm()
	res.Digest = alg.Sum(res.Stdout)
	if len(res.Stderr) > 0 {
		res.StderrDigest = alg.Sum(res.Stderr)
	}
	if res.Kind != evidence.KindFetchDir {
		return
	}
	recs := make([]evidence.FileRecord, len(res.Files))
	for i := range res.Files {
		res.Files[i].Digest = alg.Sum(res.Files[i].Data)
		recs[i] = evidence.FileRecordOf(res.Files[i])
	}
	res.Digest = evidence.TreeDigest(alg, recs)
}

func (r *Runner) logResult(res evidence.ModuleResult) {
	log := logging.OrDefault(r.Logger)
	attrs := []any{
		"module", res.Name,
		"category", res.Category,
		"status", string(res.Status),
		"bytes", res.Size(),
		"duration", res.Duration().String(),
	}
	if res.Kind == evidence.KindFetchDir {
		attrs = append(attrs, "files", len(res.Files))
	}
	switch res.Status {
	case evidence.StatusSuccess, evidence.StatusSkipped:
		if res.Reason != "" {
			attrs = append(attrs, "reason", res.Reason)
		}
		log.Info("module finished", attrs...)
	case evidence.StatusNonZeroExit:
		log.Info("module finished", append(attrs, "exit_code", res.ExitCode)...)
	case evidence.StatusCommandError, evidence.StatusTimeout, evidence.StatusSessionLost:
		log.Warn("module failed", append(attrs, "reason", res.Reason)...)
	}
}
