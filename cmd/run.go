package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/config"
	"github.com/JakeFAU/catalog-scraper/internal/logging"
	"github.com/JakeFAU/catalog-scraper/internal/scrape"
	"github.com/JakeFAU/catalog-scraper/internal/server"
)

// appRunner performs one run for a loaded config. Tests replace it.
type appRunner func(ctx context.Context, cfg config.Config) (scrape.Summary, error)

// newRunCmd creates the 'run' subcommand.
func newRunCmd(runner appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Scrape the catalog and write every record to the destination",
		Long: `Seeds the task queue with the configured listing pages, supervises the
worker pool until it drains and writes all records to output.destination.
Page and product failures are logged and skipped; only configuration,
startup and write failures produce a non-zero exit status.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			summary, err := runner(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d records to %s\n", summary.Records, summary.Destination)
			return nil
		},
	}
}

func runApp(ctx context.Context, cfg config.Config) (scrape.Summary, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return scrape.Summary{}, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return scrape.Summary{}, err
	}
	defer app.Close()

	summary, err := app.Run(ctx)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		return summary, err
	}
	logger.Info("run complete",
		zap.String("run_id", summary.RunID),
		zap.Int("records", summary.Records),
		zap.Int("restarts", summary.Restarts),
		zap.Int("tasks_lost", summary.TasksLost),
	)
	return summary, nil
}
