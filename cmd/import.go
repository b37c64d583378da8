package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// newImportCmd creates the 'import' subcommand. The orchestrator starts it as
// a child process when import.detached is set.
func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Imports the primary and comment stores into the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout := appInstance.Config().Import.Timeout; timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return appInstance.Import(ctx)
		},
	}
}
