package cmd

import (
	"errors"
	"fmt"
	"os"
)

// Execute runs the root command and exits with the code its outcome maps to.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if errors.Is(err, errPrivilegedUser) {
		// Privileged account error prints to stdout and exits with code 1
		_, _ = fmt.Fprintln(os.Stdout, err.Error())
		exitFunc(exitGeneral)
		return
	}
	if msg := err.Error(); msg != "" {
		_, _ = fmt.Fprintln(os.Stderr, "rosac:", msg)
	}
	exitFunc(exitCodeFor(err))
}
