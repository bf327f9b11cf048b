package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/qa-agent/logexplain/pkg/models"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"logexplain_explain":        handleExplain,
	"logexplain_history_search": handleHistorySearch,
	"logexplain_history_show":   handleHistoryShow,
	"logexplain_runs":           handleRuns,
	"logexplain_cache_stats":    handleCacheStats,
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var toolDefinitions = []ToolDefinition{
	{
		Name:        "logexplain_explain",
		Description: "Explain an error log for a QA analyst. Pass the log text or a path to a log file.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"log_text": stringProp("Raw log text (takes precedence over log_path)"),
				"log_path": stringProp("Path to a log file readable by the server"),
			},
		},
	},
	{
		Name:        "logexplain_history_search",
		Description: "Search previously explained logs and their explanations for text.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query": stringProp("Case-insensitive text to look for"),
				"limit": map[string]any{"type": "integer", "description": "Max results (default 10)"},
			},
		},
	},
	{
		Name:        "logexplain_history_show",
		Description: "Show one persisted explanation by ID.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"id"},
			"properties": map[string]any{"id": stringProp("Interaction ID")},
		},
	},
	{
		Name:        "logexplain_runs",
		Description: "List recent evidence runs, optionally filtered by ticket, state or start date.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticket": stringProp("Ticket key, e.g. QA-123 (optional)"),
				"state":  stringProp("Final state: Done or Failed (optional)"),
				"since":  stringProp("Start date in YYYY-MM-DD format (optional)"),
			},
		},
	},
	{
		Name:        "logexplain_cache_stats",
		Description: "Show explanation cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

type explainArgs struct {
	LogText string `json:"log_text"`
	LogPath string `json:"log_path"`
}

func handleExplain(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Explainer == nil {
		return textResult("Explanation backend is not configured.")
	}
	var args explainArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	text := args.LogText
	if strings.TrimSpace(text) == "" {
		if args.LogPath == "" {
			return errorResult("log_text or log_path is required")
		}
		data, err := os.ReadFile(args.LogPath)
		if err != nil {
			return errorResult("Error reading log: " + err.Error())
		}
		text = string(data)
	}

	exp, hit, err := s.deps.Explainer.Explain(ctx, text)
	if err != nil {
		return errorResult("Error explaining log: " + err.Error())
	}
	return textResult(formatExplanation(exp, hit))
}

type historySearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func handleHistorySearch(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.History == nil {
		return textResult("Explanation history is not configured.")
	}
	var args historySearchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("query is required")
	}
	if args.Limit <= 0 {
		args.Limit = 10
	}
	items, err := s.deps.History.Search(ctx, args.Query, args.Limit)
	if err != nil {
		return errorResult("Error searching history: " + err.Error())
	}
	return textResult(formatInteractions(items))
}

type historyShowArgs struct {
	ID string `json:"id"`
}

func handleHistoryShow(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.History == nil {
		return textResult("Explanation history is not configured.")
	}
	var args historyShowArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.ID == "" {
		return errorResult("id is required")
	}
	it, err := s.deps.History.FindByID(ctx, args.ID)
	if errors.Is(err, models.ErrNotFound) {
		return errorResult(fmt.Sprintf("No explanation with id %s.", args.ID))
	}
	if err != nil {
		return errorResult("Error loading explanation: " + err.Error())
	}
	return textResult(formatInteraction(it))
}

type runsArgs struct {
	Ticket string `json:"ticket"`
	State  string `json:"state"`
	Since  string `json:"since"`
}

func handleRuns(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Runs == nil {
		return textResult("Run journal is not configured.")
	}
	var args runsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	opts := models.RunQueryOpts{TicketKey: args.Ticket, State: args.State, Limit: 50}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}
	runs, err := s.deps.Runs.Query(ctx, opts)
	if err != nil {
		return errorResult("Error querying runs: " + err.Error())
	}
	return textResult(formatRuns(runs))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.deps.Cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.deps.Cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}
