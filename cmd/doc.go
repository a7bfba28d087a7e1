// Package cmd implements the rosac command-line interface.
//
// The package wires cobra subcommands (run, fleet, verify, verify-bundle) to
// the collection packages under internal/, binds every flag to a ROSAC_
// environment variable through Viper, and maps run outcomes to process exit
// codes.
//
// New contributors should start with rootCmd.go and init.go for the
// configuration surface, runCmd.go for a single-device collection, and
// exitCode.go for how outcomes become exit statuses.
package cmd
