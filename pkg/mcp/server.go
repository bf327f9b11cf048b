// Package mcp exposes log explanation and history lookup as Model Context
// Protocol tools over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/models"
)

const maxLineBytes = 4 << 20

// Explainer explains a log. The bool reports a cache hit.
type Explainer interface {
	Explain(ctx context.Context, logText string) (models.Explanation, bool, error)
}

// History reads persisted explanations.
type History interface {
	Search(ctx context.Context, query string, limit int) ([]models.Interaction, error)
	FindByID(ctx context.Context, id string) (models.Interaction, error)
}

// Runs reads the run journal.
type Runs interface {
	Query(ctx context.Context, opts models.RunQueryOpts) ([]models.RunRecord, error)
}

// CacheStatter reports cache statistics.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// Deps are the backends behind the tools. A nil dependency makes its tools
// report that the feature is not configured.
type Deps struct {
	Explainer Explainer
	History   History
	Runs      Runs
	Cache     CacheStatter
}

// Server is a line-delimited JSON-RPC 2.0 MCP server.
type Server struct {
	deps    Deps
	version string
	log     *zap.Logger
}

// New creates a Server.
func New(deps Deps, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{deps: deps, version: version, log: log}
}

// Run reads one request per line from r and writes responses to w. It
// returns when r is exhausted or ctx is done.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, rpcError(nil, CodeParseError, "parse error"))
			continue
		}
		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "logexplain", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: toolDefinitions})
	case "tools/call":
		return s.callTool(ctx, req)
	}
	if len(req.ID) == 0 {
		return nil
	}
	return rpcError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
}

func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req.ID, CodeInvalidParams, "invalid params")
	}
	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req.ID, errorResult("unknown tool: "+params.Name))
	}
	s.log.Debug("tool call", zap.String("tool", params.Name))
	return result(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("mcp marshal failed", zap.Error(err))
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.log.Warn("mcp write failed", zap.Error(err))
	}
}
