// Package commands defines the CLI command structure and flag bindings.
//
// Command execution is delegated to the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the pipeline CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pipeline",
		Short:         "Collect search reports from many accounts in parallel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(Run())
	cmd.AddCommand(Serve())
	cmd.AddCommand(Version())

	return cmd
}
