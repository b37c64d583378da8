package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ocsync/internal/store"
)

var killTargets = map[string]store.Flag{
	"ranking": store.RankingKill,
	"daily":   store.ExtendedCrawlKill,
}

// newKillCmd creates the 'kill' subcommand, which asks a running crawl to stop.
func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "kill ranking|daily",
		Short:     "Raises a kill flag so the running crawl stops",
		Long:      `Raises the ranking or the daily extended crawl kill flag. Loops check their flag before every page or candidate and stop with a cancellation error.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"ranking", "daily"},
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, ok := killTargets[args[0]]
			if !ok {
				return fmt.Errorf("unknown kill target %q: want ranking or daily", args[0])
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Kill(cmd.Context(), flag)
		},
	}
}
