package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dailymatch/internal/pipeline"
	"github.com/kalambet/dailymatch/internal/storage"
)

const recentRunsURI = "dailymatch://runs/recent"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Runner Runner // optional; if nil, run_matching returns an error
}

// NewMCPServer creates an MCP server exposing match reads and run triggers.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"dailymatch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dailymatch pairs book club participants with the readers whose reflections were most alike yesterday."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_matches",
			mcp.WithDescription("Return a participant's matches for a cohort and day."),
			mcp.WithString("cohort_id", mcp.Description("Cohort id"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Day in YYYY-MM-DD"), mcp.Required()),
			mcp.WithString("viewer", mcp.Description("Participant id"), mcp.Required()),
		),
		mcpGetMatches(deps),
	)

	s.AddTool(
		mcp.NewTool("run_matching",
			mcp.WithDescription("Compute matches for a cohort and day. The day defaults to yesterday in the cohort's timezone."),
			mcp.WithString("cohort_id", mcp.Description("Cohort id"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Day in YYYY-MM-DD")),
			mcp.WithBoolean("force", mcp.Description("Replace an existing result")),
		),
		mcpRunMatching(deps),
	)

	s.AddTool(
		mcp.NewTool("list_cohorts",
			mcp.WithDescription("List cohorts known to the directory."),
			mcp.WithBoolean("active_only", mcp.Description("Only active cohorts")),
		),
		mcpListCohorts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			recentRunsURI,
			"Recent Runs",
			mcp.WithResourceDescription("Last 10 matching runs across all cohorts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpGetMatches(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cohortID, err := req.RequireString("cohort_id")
		if err != nil {
			return mcpError("cohort_id is required"), nil
		}
		rawDate, err := req.RequireString("date")
		if err != nil {
			return mcpError("date is required"), nil
		}
		viewer, err := req.RequireString("viewer")
		if err != nil {
			return mcpError("viewer is required"), nil
		}
		date, err := civil.ParseDate(rawDate)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid date %q", rawDate)), nil
		}

		matches, err := deps.Store.ReadResult(ctx, cohortID, date, viewer)
		switch {
		case errors.Is(err, storage.ErrNotComputed):
			return mcpError(fmt.Sprintf("matching for %s on %s is not computed yet", cohortID, date)), nil
		case errors.Is(err, storage.ErrNotFound):
			return mcpError(fmt.Sprintf("%s has no matches on %s", viewer, date)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("reading matches: %v", err)), nil
		}

		b, err := json.Marshal(matchesResponse{CohortID: cohortID, Date: date.String(), Viewer: viewer, Matches: matches})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal matches: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRunMatching(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Runner == nil {
			return mcpError("matching runs are not available in this server"), nil
		}
		cohortID, err := req.RequireString("cohort_id")
		if err != nil {
			return mcpError("cohort_id is required"), nil
		}
		run := pipeline.Request{CohortID: cohortID, Force: req.GetBool("force", false)}
		if raw := req.GetString("date", ""); raw != "" {
			d, err := civil.ParseDate(raw)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid date %q", raw)), nil
			}
			run.Date = d
		}

		res, err := deps.Runner.Run(ctx, run)
		if err != nil {
			return mcpError(fmt.Sprintf("run failed: %v", err)), nil
		}
		b, err := json.Marshal(Summarize(res))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListCohorts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cohorts, err := deps.Store.ListCohorts(ctx, req.GetBool("active_only", false))
		if err != nil {
			return mcpError(fmt.Sprintf("listing cohorts: %v", err)), nil
		}
		if len(cohorts) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(cohorts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal cohorts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.RecentRuns(ctx, "", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent runs: %w", err)
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		b, err := json.Marshal(runs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
