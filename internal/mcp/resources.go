package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	runsURI          = "hotelpipe://runs"
	tableURIPrefix   = "hotelpipe://tables/"
	tableURISuffix   = "/summary"
	resourceRunLimit = 50
)

func (s *Server) registerResources() {
	// ── hotelpipe://runs ───────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		runsURI,
		"Recent Stage Runs",
		mcp.WithMIMEType("application/json"),
	), s.handleRunsResource)

	// ── hotelpipe://tables/{name}/summary ──────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			tableURIPrefix+"{name}"+tableURISuffix,
			"Loaded Table Summary",
		),
		s.handleTableResource,
	)
}

func (s *Server) handleRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	runs, err := s.pipeline.ListRuns(ctx, "", resourceRunLimit)
	if err != nil {
		return nil, err
	}
	return jsonContents(runsURI, runs)
}

func (s *Server) handleTableResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	name := tableFromURI(uri)
	if name == "" {
		return nil, fmt.Errorf("could not extract table name from URI: %s", uri)
	}
	summary, err := s.pipeline.Summary(ctx, name)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, summary)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// tableFromURI extracts the table name from "hotelpipe://tables/{name}/summary".
func tableFromURI(uri string) string {
	if !strings.HasPrefix(uri, tableURIPrefix) || !strings.HasSuffix(uri, tableURISuffix) {
		return ""
	}
	name := strings.TrimSuffix(strings.TrimPrefix(uri, tableURIPrefix), tableURISuffix)
	if strings.Contains(name, "/") {
		return ""
	}
	return name
}
