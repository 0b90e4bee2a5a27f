package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd(runner appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Scrapes a paginated product catalog with a supervised worker pool.",
		Long: `scraper walks the listing pages of a product catalog, extracts one record
per product with a pool of supervised workers and writes every record to a
single destination once the pool has drained.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars override it")
	cmd.AddCommand(newRunCmd(runner))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(runApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
