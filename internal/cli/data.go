package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/transfer"
)

// writeOutput writes data to path, or to w when path is empty or "-".
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, planbase.DefaultFilePermissions); err != nil {
		return WrapExitError(ExitCommandError, "cannot write output", err)
	}
	return nil
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a snapshot of every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.migrator.Backup(cmd.Context())
			if err != nil {
				return storeError("backup failed", err)
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), file, append(data, '\n'))
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot file (default stdout)")
	return cmd
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-file>",
		Short: "Replace the store contents with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "cannot read snapshot", err)
			}
			var snap planbase.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return WrapExitError(ExitCommandError, "invalid snapshot", err)
			}

			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.migrator.Restore(cmd.Context(), &snap); err != nil {
				return storeError("restore failed", err)
			}
			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return storeError("cannot count documents", err)
			}
			return a.out.print(stats, func(w io.Writer) {
				fmt.Fprintf(w, "restored snapshot version %d\n", snap.Version)
			})
		},
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		format     string
		skipErrors bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import planning data from JSON, YAML or CSV",
		Long: `Import planning data. The format is taken from --format or the file
extension. Without --skip-errors the first rejected record aborts the import
and nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = filepath.Ext(args[0])
			}
			f, err := transfer.ParseFormat(format)
			if err != nil || f == transfer.FormatSQL {
				return NewExitError(ExitCommandError, fmt.Sprintf("cannot import format %q", format))
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "cannot read input", err)
			}

			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := transfer.NewImporter(a.repos).Import(cmd.Context(), data, f, transfer.Options{SkipErrors: skipErrors})
			if err != nil {
				return storeError("import failed", err)
			}
			if err := a.out.print(result, func(w io.Writer) {
				for _, kind := range []string{"businessLines", "roles", "teams", "members", "projects",
					"tasks", "resources", "resourceBookings", "performanceMetrics"} {
					if n := result.Imported[kind]; n > 0 {
						fmt.Fprintf(w, "%-20s %d\n", kind, n)
					}
				}
				for _, e := range result.Errors {
					fmt.Fprintf(w, "error: %s\n", e)
				}
				if result.Aborted {
					fmt.Fprintln(w, "import aborted, nothing was written")
				}
			}); err != nil {
				return err
			}
			if !result.Success {
				return NewExitError(ExitFailure, fmt.Sprintf("import failed with %d error(s)", len(result.Errors)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "input format (json|yaml|csv)")
	cmd.Flags().BoolVar(&skipErrors, "skip-errors", false, "import valid records and report the rest")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		format string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every collection as JSON, YAML, CSV or PostgreSQL SQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := transfer.ParseFormat(format)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid format", err)
			}

			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := transfer.NewExporter(a.repos).Export(cmd.Context(), f)
			if err != nil {
				return storeError("export failed", err)
			}
			if file == "." {
				file = result.Filename
			}
			return writeOutput(cmd.OutOrStdout(), file, []byte(result.Data))
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format (json|yaml|csv|sql)")
	cmd.Flags().StringVarP(&file, "file", "f", "", `output file; "." uses the dated default name (default stdout)`)
	return cmd
}

// NewTemplateCommand creates the template command.
func NewTemplateCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Print an example import file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := transfer.ParseFormat(format)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid format", err)
			}
			data, err := transfer.Template(f)
			if err != nil {
				return WrapExitError(ExitCommandError, "no template", err)
			}
			return writeOutput(cmd.OutOrStdout(), "", data)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "template format (json|yaml|csv)")
	return cmd
}
