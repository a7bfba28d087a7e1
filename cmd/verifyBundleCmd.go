package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Linkavych/rOSac/internal/bundle"
)

// verifyBundleCmd re-hashes a finished bundle against its manifest.
var verifyBundleCmd = &cobra.Command{
	Use:   "verify-bundle DIR",
	Short: "Check a bundle's artifacts against the digests in its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := bundle.Verify(args[0])
		if err != nil {
			return fmt.Errorf("verify %s: %w", args[0], err)
		}
		out := cmd.OutOrStdout()
		for _, p := range rep.Problems {
			_, _ = fmt.Fprintf(out, "%s: %s\n", p.Path, p.Issue)
		}
		for _, n := range rep.Notes {
			_, _ = fmt.Fprintf(out, "note: module %s %s\n", n.Path, n.Issue)
		}
		if !rep.OK() {
			return &exitError{code: exitGeneral, err: fmt.Errorf("bundle %s: %d problem(s) in %d artifacts", rep.RunID, len(rep.Problems), rep.Checked)}
		}
		_, _ = fmt.Fprintf(out, "Bundle OK: %s (%s, %d artifacts verified)\n", rep.RunID, rep.Status, rep.Checked)
		return nil
	},
}
