package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/qa-agent/logexplain/pkg/compress"
	"github.com/qa-agent/logexplain/pkg/gateway"
	"github.com/qa-agent/logexplain/pkg/jira"
	"github.com/qa-agent/logexplain/pkg/pipeline"
	"github.com/qa-agent/logexplain/pkg/provider/gemini"
	"github.com/qa-agent/logexplain/pkg/slack"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		ticket        string
		yes           bool
		no            bool
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "run LOG [LOG...]",
		Short: "Explain error logs and optionally post them to a ticket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes && no {
				return errors.New("--yes and --no are mutually exclusive")
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if ticket != "" && !jira.ValidIssueKey(strings.TrimSpace(ticket)) {
				a.log.Warn("ticket key does not look like a Jira issue key", zap.String("ticket", ticket))
			}

			orch, err := buildOrchestrator(a, confirmer(a.log, yes, no, cmd.InOrStdin(), cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			if metricsListen == "" {
				metricsListen = a.cfg.Metrics.Listen
			}
			if metricsListen != "" {
				stop, err := serveMetrics(cmd.Context(), a, metricsListen)
				if err != nil {
					return err
				}
				defer stop()
			}

			runs := orch.RunBatch(cmd.Context(), args, ticket)
			printRuns(cmd.OutOrStdout(), runs)

			var failed int
			for _, r := range runs {
				if r.State == pipeline.StateFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(runs))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&ticket, "ticket", "t", "", "issue key the evidence belongs to (e.g. QA-123)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "answer yes to every confirmation")
	cmd.Flags().BoolVar(&no, "no", false, "answer no to every confirmation")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address to serve /metrics on while running")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}

func buildOrchestrator(a *app, confirm pipeline.Confirmer) (*pipeline.Orchestrator, error) {
	c, err := a.openCache()
	if err != nil {
		return nil, err
	}
	backend, err := gemini.New(a.cfg.Provider, a.log.Named("gemini"), a.metrics)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(backend, c, a.cfg, a.log.Named("gateway"))
	if err != nil {
		return nil, err
	}
	comp, err := compress.New(a.cfg.Compress, a.log.Named("compress"))
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Explainer:  gw,
		Compressor: comp,
		Confirmer:  confirm,
		Metrics:    a.metrics,
	}
	if p, ok := confirm.(pipeline.Presenter); ok {
		deps.Presenter = p
	}

	repo, err := a.openRepository()
	if err != nil {
		return nil, err
	}
	deps.Repository = repo

	journal, err := a.openJournal()
	if err != nil {
		return nil, err
	}
	if journal != nil {
		deps.Journal = journal
	}

	if a.cfg.Jira.BaseURL != "" {
		tracker, err := jira.New(a.cfg.Jira, a.log.Named("jira"), a.metrics)
		if err != nil {
			return nil, err
		}
		deps.Tracker = tracker
	} else {
		a.log.Info("jira not configured, comment and attach steps are skipped")
	}

	if a.cfg.Slack.WebhookURL != "" {
		n, err := slack.New(a.cfg.Slack.WebhookURL, a.log.Named("slack"), a.metrics)
		if err != nil {
			return nil, err
		}
		deps.Notifier = n
	}

	return pipeline.New(deps, a.cfg.CallTimeout, a.log.Named("pipeline"))
}

// confirmer picks how decisions are answered. Without a terminal and without
// --yes or --no every question is answered no.
func confirmer(log *zap.Logger, yes, no bool, in io.Reader, out io.Writer) pipeline.Confirmer {
	switch {
	case yes:
		return pipeline.Static{Answer: true}
	case no:
		return pipeline.Static{Answer: false}
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return pipeline.NewPrompt(in, out)
	}
	log.Warn("stdin is not a terminal, declining comment and attach (use --yes to accept)")
	return pipeline.Static{Answer: false}
}

func serveMetrics(ctx context.Context, a *app, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func printRuns(w io.Writer, runs []*pipeline.EvidenceRun) {
	fmt.Fprintf(w, "%-10s %-8s %-5s %-9s %-8s %10s  %s\n",
		"STATE", "TICKET", "CACHE", "COMMENTED", "ATTACHED", "DURATION", "LOG")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-8s %-5s %-9s %-8s %10s  %s\n",
			r.State, r.TicketKey, yesNo(r.CacheHit), yesNo(r.Commented), yesNo(r.Attached),
			r.Duration().Round(time.Millisecond), r.LogPath)
	}
	for _, r := range runs {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "\n%s: %v\n", r.LogPath, r.Err)
		case r.Explanation.Usable():
			fmt.Fprintf(w, "\n%s\n", pipeline.Heading(r))
			if r.SidecarPath != "" {
				fmt.Fprintf(w, "saved to %s\n", r.SidecarPath)
			}
			fmt.Fprintf(w, "%s\n", r.Explanation.Content)
			if u := r.Explanation.TokenUsage; u != nil {
				fmt.Fprintf(w, "(%s tokens, %s)\n", humanize.Comma(int64(u.TotalTokens)), u.Model)
			}
		}
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
