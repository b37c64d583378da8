package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ocsync/internal/crawler"
)

// newFetchPartitionCmd creates the child process entry of the exec launcher.
func newFetchPartitionCmd() *cobra.Command {
	var task, cycle string
	cmd := &cobra.Command{
		Use:    "fetch-partition",
		Short:  "Fetches and stages the partitions of one crawl task",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cycle == "" {
				return errors.New("--cycle is required")
			}
			partitions, err := crawler.ParseTask(task)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.FetchPartitions(cmd.Context(), crawler.Task{Partitions: partitions, Cycle: cycle})
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "partitions to fetch, e.g. ranking:17,rising:2")
	cmd.Flags().StringVar(&cycle, "cycle", "", "crawl cycle the staged data belongs to")
	return cmd
}
