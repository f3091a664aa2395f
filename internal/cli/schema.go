package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/planbase"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply pending migration steps in version order, up to --to or the
latest version. A failed step stops the run; earlier steps stay applied and
the next run resumes from the failed step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			var result planbase.MigrationResult
			if target > 0 {
				result, err = a.migrator.MigrateTo(cmd.Context(), target)
			} else {
				result, err = a.migrator.MigrateToLatest(cmd.Context())
			}
			if err != nil {
				return storeError("migration failed", err)
			}
			return a.out.print(result, func(w io.Writer) {
				if result.IsUpToDate {
					fmt.Fprintf(w, "schema is up to date at version %d\n", result.To)
					return
				}
				for _, step := range result.Applied {
					fmt.Fprintf(w, "applied %d %s\n", step.Version, step.Name)
				}
				fmt.Fprintf(w, "schema migrated from version %d to %d\n", result.From, result.To)
			})
		},
	}

	cmd.Flags().IntVar(&target, "to", 0, "target version (default latest)")
	return cmd
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version>",
		Short: "Undo the most recently applied migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var version int
			if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
				return WrapExitError(ExitCommandError, "version must be a number", err)
			}

			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.migrator.Rollback(cmd.Context(), version); err != nil {
				return storeError("rollback failed", err)
			}
			status, err := a.migrator.MigrationStatus(cmd.Context())
			if err != nil {
				return storeError("cannot read migration status", err)
			}
			return a.out.print(status, func(w io.Writer) {
				fmt.Fprintf(w, "rolled back migration %d, schema at version %d\n", version, status.Version)
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.migrator.MigrationStatus(cmd.Context())
			if err != nil {
				return storeError("cannot read migration status", err)
			}
			return a.out.print(status, func(w io.Writer) {
				fmt.Fprintf(w, "state:   %s\n", status.State)
				fmt.Fprintf(w, "version: %d of %d\n", status.Version, status.Target)
				for _, name := range status.Pending {
					fmt.Fprintf(w, "pending: %s\n", name)
				}
				if status.LastError != "" {
					fmt.Fprintf(w, "error:   %s\n", status.LastError)
				}
			})
		},
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the persisted schema against the declared one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			issues := a.migrator.ValidateDatabase(cmd.Context())
			if err := a.out.print(map[string]interface{}{"valid": len(issues) == 0, "issues": issues}, func(w io.Writer) {
				if len(issues) == 0 {
					fmt.Fprintln(w, "schema is valid")
				}
				for _, issue := range issues {
					fmt.Fprintf(w, "- %s\n", issue)
				}
			}); err != nil {
				return err
			}
			if len(issues) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d schema issue(s)", len(issues)))
			}
			return nil
		},
	}
}
