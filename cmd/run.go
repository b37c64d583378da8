package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/ocsync/internal/orchestrator"
)

// newRunCmd creates the 'run' subcommand, one orchestrator invocation.
func newRunCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one hourly, daily or retry cycle",
		Long: `Runs one orchestrator cycle. Without --mode the cycle is chosen from the
clock and the persisted flags: daily inside the daily window, retry when the
previous daily run never finished, hourly otherwise. The command waits for
an in-process archive import before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer appInstance.WaitImports()

			if mode == "" {
				return appInstance.Run(cmd.Context())
			}
			m, err := orchestrator.ParseMode(mode)
			if err != nil {
				return err
			}
			return appInstance.RunMode(cmd.Context(), m)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "force a mode: hourly, daily or retry")
	return cmd
}
