package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
	"github.com/adrianmcphee/planbase/repo"
)

// StatsReport is the output of the stats command.
type StatsReport struct {
	Documents map[string]int     `json:"documents"`
	Members   repo.MemberStats   `json:"members"`
	Teams     repo.TeamStats     `json:"teams"`
	Projects  repo.ProjectStats  `json:"projects"`
	Tasks     repo.TaskStats     `json:"tasks"`
	Resources repo.ResourceStats `json:"resources"`
	Bookings  repo.BookingStats  `json:"bookings"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the stored planning data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var report StatsReport
			if report.Documents, err = a.store.Stats(ctx); err != nil {
				return storeError("cannot count documents", err)
			}
			if report.Members, err = a.repos.Members.Stats(ctx); err != nil {
				return storeError("member stats", err)
			}
			if report.Teams, err = a.repos.Teams.Stats(ctx); err != nil {
				return storeError("team stats", err)
			}
			if report.Projects, err = a.repos.Projects.Stats(ctx); err != nil {
				return storeError("project stats", err)
			}
			if report.Tasks, err = a.repos.Tasks.Stats(ctx); err != nil {
				return storeError("task stats", err)
			}
			if report.Resources, err = a.repos.Resources.Stats(ctx); err != nil {
				return storeError("resource stats", err)
			}
			if report.Bookings, err = a.repos.Bookings.Stats(ctx); err != nil {
				return storeError("booking stats", err)
			}

			return a.out.print(report, func(w io.Writer) {
				names := make([]string, 0, len(report.Documents))
				for name := range report.Documents {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(w, "%-20s %d\n", name, report.Documents[name])
				}
				fmt.Fprintf(w, "\nactive members:      %d of %d\n", report.Members.Active, report.Members.Total)
				fmt.Fprintf(w, "overdue tasks:       %d\n", report.Tasks.Overdue)
				fmt.Fprintf(w, "completion rate:     %.1f%%\n", report.Tasks.CompletionRate)
				fmt.Fprintf(w, "overdue projects:    %d\n", report.Projects.Overdue)
				fmt.Fprintf(w, "upcoming bookings:   %d\n", report.Bookings.Upcoming)
			})
		},
	}
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	var watch time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check schema state and backend reachability",
		Long: `Check schema state and backend reachability. With --watch the check
repeats on the interval until interrupted and unhealthy reports are logged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if watch > 0 {
				checker := planbase.NewHealthChecker(a.migrator).WithInterval(watch)
				checker.Check(cmd.Context())
				stop, err := a.serveMetrics(rootOpts.MetricsAddr, checker.Last)
				if err != nil {
					return err
				}
				defer stop()
				if err := checker.Start(cmd.Context()); err != nil {
					return WrapExitError(ExitCommandError, "cannot start health checker", err)
				}
				<-cmd.Context().Done()
				checker.Stop()
				return nil
			}

			report := planbase.CheckHealth(cmd.Context(), a.migrator)
			if err := a.out.print(report, func(w io.Writer) {
				if report.IsHealthy {
					fmt.Fprintln(w, "healthy")
				}
				for _, issue := range report.Issues {
					fmt.Fprintf(w, "issue: %s\n", issue)
				}
				for _, rec := range report.Recommendations {
					fmt.Fprintf(w, "recommendation: %s\n", rec)
				}
			}); err != nil {
				return err
			}
			if !report.IsHealthy {
				return NewExitError(ExitFailure, "store is unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&watch, "watch", 0, "repeat the check on this interval")
	return cmd
}

// NewRecomputeCommand creates the recompute command.
func NewRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		period string
		asOf   string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute performance metrics and rankings",
		Long: `Recompute performance metrics for every member and team over the
period containing --as-of. With --watch the week and month metrics are
refreshed every PLANBASE_METRICS_REFRESH_INTERVAL until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if watch {
				stop, err := a.serveMetrics(rootOpts.MetricsAddr, func() *planbase.HealthReport {
					report := planbase.CheckHealth(cmd.Context(), a.migrator)
					return &report
				})
				if err != nil {
					return err
				}
				defer stop()
				refresher := repo.NewRefresher(a.repos.Metrics, a.cfg.MetricsRefreshInterval)
				if err := refresher.Start(cmd.Context()); err != nil {
					return WrapExitError(ExitCommandError, "cannot start refresher", err)
				}
				<-cmd.Context().Done()
				refresher.Stop()
				return nil
			}

			at := a.store.Now()
			if asOf != "" {
				if at, err = time.Parse("2006-01-02", asOf); err != nil {
					return WrapExitError(ExitCommandError, "--as-of must be YYYY-MM-DD", err)
				}
			}
			rows, err := a.repos.Metrics.Recompute(cmd.Context(), period, at)
			if err != nil {
				return storeError("recompute failed", err)
			}
			return a.out.print(rows, func(w io.Writer) {
				for _, r := range rows {
					fmt.Fprintf(w, "%-6s %-36s rank %-3d efficiency %.2f velocity %.2f\n",
						r.TargetType, r.TargetID, r.Rank, r.EfficiencyScore, r.Velocity)
				}
			})
		},
	}

	cmd.Flags().StringVar(&period, "period", model.PeriodMonth, "week|month|quarter|year")
	cmd.Flags().StringVar(&asOf, "as-of", "", "date inside the period (default today)")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep refreshing on the configured interval")
	return cmd
}
