package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Linkavych/rOSac/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "rosac",
	Short: "Collect forensic artifacts from network appliances over SSH",
	Long: "Connects to a network appliance (RouterOS and similar) over SSH, runs a catalog of diagnostic " +
		"commands, and writes the verbatim output into a hashed, write-once evidence bundle with a manifest.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.NewStructuredLogger(cmd.ErrOrStderr(), "rosac", Version, cfgLogLevel, logging.ParseFormat(cfgLogFormat))
		return nil
	},
}
