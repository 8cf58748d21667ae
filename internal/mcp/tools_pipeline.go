package mcpserver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
)

func (s *Server) registerPipelineTools() {
	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List the registered table source types with their configuration fields"),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("run_stage",
		mcp.WithDescription("Run one pipeline stage now. publish sends an uploaded CSV to telemetry; sync reassembles telemetry and loads it into the database (replaces the table); load reloads the database from the stored object; replay re-sends failed publishes; features writes train and test files per hotel."),
		mcp.WithString("stage", mcp.Description("One of: publish, sync, load, replay, features"), mcp.Required()),
		mcp.WithString("file", mcp.Description("Uploaded file name, for publish")),
		mcp.WithNumber("limit", mcp.Description("Maximum dead letters to replay, for replay (0 replays all)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunStage)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent stage runs, newest first"),
		mcp.WithString("stage", mcp.Description("Only list runs of this stage (optional)")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListRuns)

	s.mcp.AddTool(mcp.NewTool("table_summary",
		mcp.WithDescription("Row count, label and hotel distributions, daily cancellations and a sample of a loaded table"),
		mcp.WithString("table", mcp.Description("Table name (optional, defaults to the configured table)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleTableSummary)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(etl.ListSources())
}

func (s *Server) handleRunStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	stage, err := etl.ParseStage(req.GetString("stage", ""))
	if err != nil {
		return nil, err
	}

	var (
		result *etl.SyncResult
		report any
	)
	switch stage {
	case etl.StagePublish:
		name := req.GetString("file", "")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			return nil, fmt.Errorf("file must name an uploaded file")
		}
		result, err = s.pipeline.Publish(ctx, filepath.Join(s.pipeline.UploadDir(), name))
	case etl.StageSync:
		result, err = s.pipeline.Sync(ctx)
	case etl.StageLoad:
		result, err = s.pipeline.Load(ctx)
	case etl.StageReplay:
		result, err = s.pipeline.Replay(ctx, intArg(args, "limit", 0))
	case etl.StageFeatures:
		fr, ferr := s.pipeline.Features(ctx)
		if fr != nil {
			report = fr
		}
		err = ferr
	default:
		return nil, fmt.Errorf("stage %q cannot be triggered", stage)
	}

	s.emitter.Emit(ctx, "mcp:stage-triggered", map[string]string{"stage": string(stage)})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("stage", string(stage)).Msg("mcp stage failed")
		res, jerr := jsonResult(map[string]any{"result": result, "error": err.Error()})
		if jerr != nil {
			return nil, jerr
		}
		res.IsError = true
		return res, nil
	}
	if report != nil {
		return jsonResult(report)
	}
	return jsonResult(result)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stage etl.Stage
	if v := req.GetString("stage", ""); v != "" {
		var err error
		if stage, err = etl.ParseStage(v); err != nil {
			return nil, err
		}
	}
	runs, err := s.pipeline.ListRuns(ctx, stage, intArg(req.GetArguments(), "limit", 20))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return jsonResult(runs)
}

func (s *Server) handleTableSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := s.pipeline.Summary(ctx, req.GetString("table", ""))
	if err != nil {
		return nil, fmt.Errorf("summarize table: %w", err)
	}
	return jsonResult(summary)
}
