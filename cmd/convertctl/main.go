// Command convertctl runs conversions and maintenance against the local
// converter without going through the HTTP service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/GedeBrawidya/convert-project/internal/app"
	"github.com/GedeBrawidya/convert-project/internal/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	cfgFile string
	dbPath  string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "convertctl",
		Short: "Convert documents with LibreOffice from the command line",
		Long: `convertctl drives the same conversion pipeline as convertd.

It shares the daemon's configuration file and job history. DuckDB allows a
single writer, so point --db at a separate file while convertd is running.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", os.Getenv("CONVERT_CONFIG"), "config file path")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "job history database (overrides storage.db_path)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newConvertCmd(opts))
	cmd.AddCommand(newSweepCmd(opts))
	cmd.AddCommand(newJobsCmd(opts))

	return cmd
}

// openApp loads configuration and builds the services, logging as text to stderr.
func openApp(ctx context.Context, opts *rootOptions, stderr io.Writer) (*app.App, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.Storage.DBPath = opts.dbPath
	}

	logCfg := cfg.Logging
	logCfg.Format = "text"
	if opts.verbose {
		logCfg.Level = "debug"
	}
	logger := app.NewLogger(logCfg, stderr)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App, stderr io.Writer) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
}
