package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the Schemaloom admin CLI. Subcommands
// (bootstrap, tenant, history) are attached here.
var rootCmd = &cobra.Command{
	Use:           "schemaloom",
	Short:         "Schemaloom admin CLI",
	Long:          "Administrative utilities for Schemaloom (control-plane bootstrap, tenant provisioning, history retention).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
