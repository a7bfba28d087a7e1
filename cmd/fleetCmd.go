package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Linkavych/rOSac/internal/orchestrator"
	"github.com/Linkavych/rOSac/internal/session"
)

// fleetCmd runs the same catalog against every device in an inventory. Each
// device gets its own bundle; the exit code is the worst of all runs.
var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Collect the catalog from every device listed in a targets file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgTargetsFile == "" {
			return usageError(errors.New("--targets is required (YAML inventory)"))
		}
		if cfgParallel < 1 {
			return usageError(fmt.Errorf("--parallel must be at least 1, got %d", cfgParallel))
		}
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		opts, err := runOptions()
		if err != nil {
			return err
		}
		targets, err := loadTargets(cfgTargetsFile)
		if err != nil {
			if errors.Is(err, errPrivilegedUser) {
				return err
			}
			return usageError(err)
		}

		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		newRun := func(t session.Target) *orchestrator.Orchestrator {
			ro := withLimiter(opts)
			ro.Logger = logger.With("target", t.String())
			return orchestrator.New(ro)
		}
		results := orchestrator.RunFleet(ctx, targets, cat, newRun, cfgParallel)

		out := cmd.OutOrStdout()
		worst := exitOK
		var failed int
		for _, r := range results {
			var code int
			switch {
			case r.Manifest != nil:
				code = exitCodeForStatus(r.Manifest.Status)
				_, _ = fmt.Fprintf(out, "%s: %s %s\n", r.Target, r.Manifest.Status, r.BundleDir)
			default:
				code = exitCodeFor(r.Err)
				_, _ = fmt.Fprintf(out, "%s: error: %v\n", r.Target, r.Err)
			}
			if code != exitOK {
				failed++
			}
			if code > worst {
				worst = code
			}
		}
		if worst != exitOK {
			return &exitError{code: worst, err: fmt.Errorf("%d of %d targets did not complete", failed, len(results))}
		}
		return nil
	},
}

func init() {
	fleetCmd.Flags().StringVar(&cfgTargetsFile, "targets", "", "YAML inventory: targets: [{host, port, user, device_class, host_key}]")
	fleetCmd.Flags().IntVar(&cfgParallel, "parallel", 4, "Maximum devices collected at the same time")
}
