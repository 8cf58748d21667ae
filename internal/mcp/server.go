// Package mcpserver exposes the pipeline to AI agents over the Model Context
// Protocol: stage triggers and run history as tools, run history and table
// summaries as resources.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
	"hotelpipe/internal/service"
)

// Pipeline is the subset of the pipeline service the MCP tools drive.
type Pipeline interface {
	UploadDir() string
	Publish(ctx context.Context, path string) (*etl.SyncResult, error)
	Sync(ctx context.Context) (*etl.SyncResult, error)
	Load(ctx context.Context) (*etl.SyncResult, error)
	Features(ctx context.Context) (*service.FeatureReport, error)
	Replay(ctx context.Context, limit int) (*etl.SyncResult, error)
	ListRuns(ctx context.Context, stage etl.Stage, limit int) ([]etl.SyncRunLog, error)
	Summary(ctx context.Context, name string) (*domain.TableSummary, error)
}

var _ Pipeline = (*service.PipelineService)(nil)

// Server is the MCP server for hotelpipe.
type Server struct {
	mcp      *server.MCPServer
	pipeline Pipeline
	emitter  service.EventEmitter
}

// Deps holds everything the MCP server needs from the App layer.
type Deps struct {
	Pipeline Pipeline
	Emitter  service.EventEmitter
	Version  string
}

// New creates and configures a new MCP server with all tools, resources and prompts.
func New(deps Deps) *Server {
	s := &Server{
		pipeline: deps.Pipeline,
		emitter:  deps.Emitter,
	}
	if s.emitter == nil {
		s.emitter = service.LogEmitter{}
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s.mcp = server.NewMCPServer(
		"hotelpipe-mcp",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerPipelineTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	logging.Info().Msg("mcp stdio server starting")
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// intArg reads a numeric tool argument. JSON numbers arrive as float64.
func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolPtr(b bool) *bool { return &b }
