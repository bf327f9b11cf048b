package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qa-agent/logexplain/pkg/models"
	"github.com/qa-agent/logexplain/pkg/runlog"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query the run journal",
	}
	cmd.AddCommand(
		newRunsListCmd(opts),
		newRunsStatsCmd(opts),
		newRunsCleanupCmd(opts),
	)
	return cmd
}

func newRunsListCmd(opts *rootOptions) *cobra.Command {
	var (
		ticket string
		state  string
		since  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := models.RunQueryOpts{TicketKey: ticket, State: state, Limit: limit}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				q.Since = t
			}

			j, cleanup, err := openJournal(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := j.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatRunRecords(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&ticket, "ticket", "", "filter by ticket key")
	cmd.Flags().StringVar(&state, "state", "", "filter by final state (Done, Failed)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max runs to return")
	return cmd
}

func newRunsStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show run counts by state and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := j.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatRunStats(stats))
			return nil
		},
	}
}

func newRunsCleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete runs older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := j.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs.\n", deleted)
			return nil
		},
	}
}

func openJournal(opts *rootOptions) (*runlog.Journal, func(), error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.RunLog.Enabled {
		return nil, nil, errors.New("run journal is disabled (run_log.enabled)")
	}
	j, err := runlog.New(cfg.RunLog)
	if err != nil {
		return nil, nil, fmt.Errorf("open run journal: %w", err)
	}
	return j, func() { _ = j.Close() }, nil
}

func formatRunRecords(runs []models.RunRecord) string {
	if len(runs) == 0 {
		return "No runs found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-10s %-8s %-5s %-4s %-4s %8s %-20s\n",
		"RUN ID", "TICKET", "STATE", "CACHE", "CMT", "ATT", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 104) + "\n")
	for _, r := range runs {
		fmt.Fprintf(&b, "%-36s %-10s %-8s %-5s %-4s %-4s %6dms %-20s\n",
			r.RunID, r.TicketKey, r.State, yesNo(r.CacheHit), yesNo(r.Commented), yesNo(r.Attached),
			r.DurationMs, r.CreatedAt.Format("2006-01-02 15:04:05"))
		if r.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", r.Error)
		}
	}
	return b.String()
}

func formatRunStats(stats []models.RunStat) string {
	if len(stats) == 0 {
		return "No run stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-10s %8s\n", "DAY", "STATE", "COUNT")
	b.WriteString(strings.Repeat("-", 32) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-10s %8d\n", s.Day, s.State, s.Count)
	}
	return b.String()
}
