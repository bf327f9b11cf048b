package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qa-agent/logexplain/pkg/jira"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the configured Jira credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			client, err := jira.New(a.cfg.Jira, a.log.Named("jira"), a.metrics)
			if err != nil {
				return err
			}
			if err := client.Myself(cmd.Context()); err != nil {
				return fmt.Errorf("jira connection failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Jira connection OK (%s).\n", a.cfg.Jira.BaseURL)
			return nil
		},
	}
}
