package cmd

import (
	"fmt"
	"io"
	"sort"

	"golang.org/x/time/rate"

	"github.com/Linkavych/rOSac/internal/catalog"
	"github.com/Linkavych/rOSac/internal/evidence"
	"github.com/Linkavych/rOSac/internal/orchestrator"
	"github.com/Linkavych/rOSac/internal/session"
)

// runOptions validates the collection settings shared by run and fleet.
func runOptions() (orchestrator.Options, error) {
	mode, err := session.ParseMode(cfgSessionMode)
	if err != nil {
		return orchestrator.Options{}, usageError(err)
	}
	alg, err := evidence.ParseAlgorithm(cfgDigest)
	if err != nil {
		return orchestrator.Options{}, usageError(err)
	}
	risk := catalog.Risk(cfgMaxRisk)
	switch risk {
	case "", catalog.RiskLow, catalog.RiskMedium, catalog.RiskHigh:
	default:
		return orchestrator.Options{}, usageError(fmt.Errorf("--max-risk %q is not one of low, medium, high", cfgMaxRisk))
	}
	if cfgRate < 0 {
		return orchestrator.Options{}, usageError(fmt.Errorf("--rate must not be negative"))
	}
	return orchestrator.Options{
		Connector:      newConnectorFunc(mode, logger),
		OutDir:         cfgOutDir,
		Digest:         alg,
		DefaultTimeout: cfgTimeout,
		Policy:         orchestrator.Policy{AllowSideEffects: cfgAllowSideEffects, MaxRisk: risk},
		Archive:        cfgArchive,
		Logger:         logger,
		Version:        Version,
	}, nil
}

// withLimiter gives each run its own pacing so devices do not share a budget.
func withLimiter(opts orchestrator.Options) orchestrator.Options {
	if cfgRate > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfgRate), 1)
	}
	return opts
}

// loadCatalog loads the configured catalog, mapping problems to usage errors.
// Commands call it first so config file problems surface before anything else.
func loadCatalog() (*catalog.Catalog, error) {
	if configErr != nil {
		return nil, usageError(configErr)
	}
	if cfgCatalog == "" {
		return nil, usageError(fmt.Errorf("--catalog is required (YAML file or directory)"))
	}
	cat, err := catalog.Load(cfgCatalog)
	if err != nil {
		return nil, usageError(err)
	}
	return cat, nil
}

// printSummary writes a human readable run summary.
func printSummary(w io.Writer, m *evidence.Manifest, bundleDir string) {
	_, _ = fmt.Fprintf(w, "run %s: %s (%d modules, %s)\n", m.RunID, m.Status, len(m.Modules), m.Duration)
	statuses := make([]string, 0, len(m.Counts))
	for st, n := range m.Counts {
		if n > 0 {
			statuses = append(statuses, fmt.Sprintf("%s=%d", st, n))
		}
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "  %s\n", s)
	}
	if m.Error != "" {
		_, _ = fmt.Fprintf(w, "  error: %s\n", m.Error)
	}
	_, _ = fmt.Fprintf(w, "  bundle: %s\n", bundleDir)
}
