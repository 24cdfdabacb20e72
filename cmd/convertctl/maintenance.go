package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd(root *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove leftover workspaces and converter containers",
		Long: `Removes workspaces older than janitor.ttl.

With --all every workspace is removed and unfinished jobs are marked
interrupted. Only use it while convertd is stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a, cmd.ErrOrStderr())

			if all {
				return a.Janitor.ReapStartup(ctx)
			}
			return a.Janitor.Sweep(ctx)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "remove everything, not only expired workspaces")
	return cmd
}

func newJobsCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent conversion jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a, cmd.ErrOrStderr())

			jobs, err := a.Repo.ListJobs(ctx, limit)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSOURCE\tFORMAT\tKIND\tDURATION\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Status, j.SourceName, j.TargetFormat, j.FailureKind,
					time.Duration(j.DurationMs)*time.Millisecond,
					j.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
