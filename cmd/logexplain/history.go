package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qa-agent/logexplain/pkg/models"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse persisted log explanations",
	}
	cmd.AddCommand(
		newHistoryListCmd(opts),
		newHistorySearchCmd(opts),
		newHistoryShowCmd(opts),
		newHistoryDeleteCmd(opts),
	)
	return cmd
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	var (
		since string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent explanations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				from = t
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			repo, err := a.openRepository()
			if err != nil {
				return err
			}
			items, err := repo.List(cmd.Context(), from, limit)
			if err != nil {
				return err
			}
			printInteractions(cmd.OutOrStdout(), items)
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries to return")
	return cmd
}

func newHistorySearchCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search TEXT",
		Short: "Search logs and explanations for text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			repo, err := a.openRepository()
			if err != nil {
				return err
			}
			items, err := repo.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			printInteractions(cmd.OutOrStdout(), items)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max entries to return")
	return cmd
}

func newHistoryShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a single explanation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			repo, err := a.openRepository()
			if err != nil {
				return err
			}
			it, err := repo.FindByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ID:       %s\n", it.ID)
			fmt.Fprintf(w, "Ticket:   %s\n", it.Context)
			fmt.Fprintf(w, "Time:     %s (%s)\n", it.CreatedAt.Format(time.RFC3339), humanize.Time(it.CreatedAt))
			fmt.Fprintf(w, "Metadata: %s\n", it.Metadata)
			fmt.Fprintf(w, "\n--- Log ---\n%s\n", it.UserQuery)
			fmt.Fprintf(w, "\n--- Explanation ---\n%s\n", it.AIResponse)
			return nil
		},
	}
}

func newHistoryDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a persisted explanation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			repo, err := a.openRepository()
			if err != nil {
				return err
			}
			ok, err := repo.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("interaction %s: %w", args[0], models.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
			return nil
		},
	}
}

func printInteractions(w io.Writer, items []models.Interaction) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No explanations found.")
		return
	}
	fmt.Fprintf(w, "%-36s %-10s %-16s %s\n", "ID", "TICKET", "WHEN", "LOG")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, it := range items {
		fmt.Fprintf(w, "%-36s %-10s %-16s %s\n",
			it.ID, it.Context, humanize.Time(it.CreatedAt), firstLine(it.UserQuery, 40))
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(strings.TrimSpace(s))
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return string(r)
}
