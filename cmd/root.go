package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaredpalmer/pytrace/pkg/types"
	"github.com/jaredpalmer/pytrace/pkg/version"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:     "pytrace",
	Short:   "Trace the files a Python program needs to run",
	Long:    "pytrace statically traces the import graph of Python entry files and\nreports the closed set of files required to run them, annotated with why\neach file was included. Useful for minimal deployment bundles and\ndependency audits.",
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.SilenceErrors = true
}

// Execute runs the root command and exits with code 1 on error.
// ExitError is handled specially: its Code is used as the exit code
// (argument and configuration errors exit with 2).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exitErr *types.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
