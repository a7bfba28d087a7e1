package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Linkavych/rOSac/internal/catalog"
	"github.com/Linkavych/rOSac/internal/evidence"
	"github.com/Linkavych/rOSac/internal/session"
)

// FleetResult is the outcome of one target in a fleet sweep.
type FleetResult struct {
	Target    session.Target
	Manifest  *evidence.Manifest
	BundleDir string
	Err       error
}

// RunFleet collects cat from every target with at most parallel runs in
// flight. Each target gets an independent orchestrator from newRun, so one
// target's failure never affects another. Results keep target order.
func RunFleet(ctx context.Context, targets []session.Target, cat *catalog.Catalog, newRun func(session.Target) *Orchestrator, parallel int) []FleetResult {
	results := make([]FleetResult, len(targets))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, t := range targets {
		g.Go(func() error {
			o := newRun(t)
			m, err := o.Execute(ctx, t, cat)
			results[i] = FleetResult{Target: t, Manifest: m, BundleDir: o.BundleDir(), Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
