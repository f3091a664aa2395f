// Package cli implements the planbase command line.
package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
	"github.com/adrianmcphee/planbase/repo"
)

// DefaultDataDir is used when neither --data nor PLANBASE_DATA_DIR is set.
const DefaultDataDir = "./data"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir     string
	Output      string // "text" | "json"
	Verbose     bool
	MetricsAddr string
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "planbase",
		Short: "planbase - project planning data store",
		Long: `Manage a planbase store: run schema migrations, import and export
planning data, take backups and recompute performance metrics.

Settings come from PLANBASE_* environment variables; --data overrides
PLANBASE_DATA_DIR.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, o := range ValidOutputs {
				if o == opts.Output {
					return nil
				}
			}
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid output %q: must be one of %v", opts.Output, ValidOutputs))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data", "", "data directory (default $PLANBASE_DATA_DIR or ./data)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /health on this address during --watch")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRollbackCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewTemplateCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewRecomputeCommand(opts))

	return cmd
}

// app is the store stack one command works against.
type app struct {
	cfg      planbase.Config
	logger   *planbase.ZapLogger
	store    *planbase.Store
	migrator *planbase.Migrator
	repos    *repo.Repositories
	registry *prometheus.Registry
	out      *printer
}

func (a *app) Close() {
	_ = a.store.Close()
	_ = a.logger.Sync()
}

// open loads configuration and builds the store for cmd.
func open(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := planbase.LoadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}

	logger, err := planbase.NewZapLoggerFromConfig(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid logging configuration", err)
	}
	registry := prometheus.NewRegistry()
	metrics := planbase.NewPrometheusMetrics(registry)

	store, err := planbase.OpenStore(cfg, model.Schema(), logger, metrics)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot open store", err)
	}
	migrator, err := planbase.NewMigrator(store, model.Migrations())
	if err != nil {
		return nil, WrapExitError(ExitFatal, "invalid migration list", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		migrator: migrator,
		repos:    repo.New(store),
		registry: registry,
		out:      &printer{format: opts.Output, w: cmd.OutOrStdout()},
	}, nil
}

// storeError maps a store error onto an exit code.
func storeError(message string, err error) error {
	switch {
	case planbase.IsFatal(err):
		return WrapExitError(ExitFatal, message, err)
	case planbase.IsValidation(err), planbase.IsNotFound(err):
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}
