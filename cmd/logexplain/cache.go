package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qa-agent/logexplain/pkg/gateway"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the explanation cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			c, err := a.openCache()
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backend: %s\nEntries: %s\nTTL:     %s\n",
				a.cfg.Cache.Backend, humanize.Comma(stats.PersistentEntries), a.cfg.Gateway.CacheTTL)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			c, err := a.openCache()
			if err != nil {
				return err
			}
			if expiredOnly {
				n, err := c.Purge(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s expired cache entries.\n", humanize.Comma(n))
				return nil
			}
			if err := c.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	forgetCmd := &cobra.Command{
		Use:   "forget LOG",
		Short: "Drop the cached explanation for a log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			c, err := a.openCache()
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), gateway.Key(string(data))); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot cached explanation for %s.\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, forgetCmd)
	return cmd
}
