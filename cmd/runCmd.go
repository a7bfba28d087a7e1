package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Linkavych/rOSac/internal/orchestrator"
)

// runCmd collects the catalog from a single device into one bundle. SIGINT
// and SIGTERM abort between modules and still seal the manifest.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect the catalog from one device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		tgt, err := buildTarget()
		if err != nil {
			return err
		}
		opts, err := runOptions()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o := orchestrator.New(withLimiter(opts))
		m, runErr := o.Execute(ctx, tgt, cat)
		if m == nil {
			return runErr
		}
		printSummary(cmd.OutOrStdout(), m, o.BundleDir())
		if p := o.ArchivePath(); p != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  archive: %s\n", p)
		}
		if code := exitCodeForStatus(m.Status); code != exitOK {
			return &exitError{code: code, err: runErr}
		}
		return runErr
	},
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
