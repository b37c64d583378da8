// Package cmd defines and implements the CLI commands for the ocsync executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/app"
	"github.com/JakeFAU/ocsync/internal/config"
	"github.com/JakeFAU/ocsync/internal/crawler"
	"github.com/JakeFAU/ocsync/internal/logging"
	"github.com/JakeFAU/ocsync/internal/orchestrator"
	"github.com/JakeFAU/ocsync/internal/store"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Run(ctx context.Context) error
	RunMode(ctx context.Context, mode orchestrator.Mode) error
	Import(ctx context.Context) error
	Kill(ctx context.Context, flag store.Flag) error
	FetchPartitions(ctx context.Context, task crawler.Task) error
	OpsHandler() http.Handler
	WaitImports()
}

// newApp is the application factory. It's a variable so we can
// replace it with a fake factory in our tests.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	var childArgs []string
	if cfgPath != "" {
		childArgs = []string{"--config", cfgPath}
	}
	return app.New(ctx, cfg, logger, app.Options{ChildArgs: childArgs})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ocsync",
		Short: "Crawls the open chat ranking feed and keeps the archive in sync.",
		Long: `ocsync fetches every ranking partition of the open chat feed into the
primary PostgreSQL store once per hour, runs the post-merge maintenance jobs,
and differentially imports the primary and comment stores into the SQLite
archive.`,
		SilenceUsage: true,

		// Build the application once the flags are parsed and hand it to the
		// subcommand through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and OCSYNC_* environment only when empty)")

	cmd.AddCommand(
		newRunCmd(),
		newKillCmd(),
		newImportCmd(),
		newFetchPartitionCmd(),
		newServeCmd(),
	)

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
