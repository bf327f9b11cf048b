package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/gateway"
	"github.com/qa-agent/logexplain/pkg/mcp"
	"github.com/qa-agent/logexplain/pkg/provider/gemini"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve log explanation tools over MCP (stdio)",
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
			deps := mcp.Deps{Cache: c}

			if backend, err := gemini.New(a.cfg.Provider, a.log.Named("gemini"), a.metrics); err != nil {
				a.log.Warn("explain tool disabled", zap.Error(err))
			} else {
				gw, err := gateway.New(backend, c, a.cfg, a.log.Named("gateway"))
				if err != nil {
					return err
				}
				deps.Explainer = gw
			}

			repo, err := a.openRepository()
			if err != nil {
				return err
			}
			deps.History = repo

			journal, err := a.openJournal()
			if err != nil {
				return err
			}
			if journal != nil {
				deps.Runs = journal
			}

			srv := mcp.New(deps, version, a.log.Named("mcp"))
			a.log.Info("mcp server listening on stdio")
			return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
