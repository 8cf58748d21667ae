package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("diagnose_failed_run",
		mcp.WithPromptDescription("Walk through the recent history of a stage and explain why it failed"),
		mcp.WithArgument("stage",
			mcp.ArgumentDescription("Stage to inspect (publish, reassemble, store, fetch, load, features, sync, replay)"),
			mcp.RequiredArgument(),
		),
	), s.handleDiagnosePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("refresh_dataset",
		mcp.WithPromptDescription("Publish an uploaded booking file, sync it to the database and rebuild the feature files"),
		mcp.WithArgument("file",
			mcp.ArgumentDescription("Name of a CSV file already uploaded to the server"),
			mcp.RequiredArgument(),
		),
	), s.handleRefreshPrompt)
}

func (s *Server) handleDiagnosePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	stage := req.Params.Arguments["stage"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Diagnose failures of the %s stage", stage),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`The %[1]s stage of the hotel booking pipeline has been failing.

1. Call list_runs with stage=%[1]s and limit=10.
2. Compare the error messages of failed runs with the last successful one.
3. Errors mentioning authentication point at telemetry credentials; "object not found" means nothing was stored yet; "bucket unavailable" means the object store is unreachable.
4. Suggest the single next action, such as run_stage with stage=replay when publishes were dead-lettered.`, stage),
				},
			},
		},
	}, nil
}

func (s *Server) handleRefreshPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	file := req.Params.Arguments["file"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Refresh the dataset from %s", file),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Refresh the hotel booking dataset from the uploaded file %q.

1. Call run_stage with stage=publish and file=%[1]q. Stop if rowsFailed is not 0 and report the failures.
2. Call run_stage with stage=sync.
3. Call table_summary and report the total rows and the cancellation counts.
4. Call run_stage with stage=features and report the baseline accuracy per hotel.`, file),
				},
			},
		},
	}, nil
}
