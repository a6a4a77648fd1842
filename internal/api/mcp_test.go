package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/pipeline"
	"github.com/kalambet/dailymatch/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func newTestMCPDeps(t *testing.T, participants int) (MCPDeps, *storage.Store) {
	t.Helper()
	s := openStore(t)
	seedCohort(t, s, participants)
	return MCPDeps{Store: s, Runner: newRunner(s)}, s
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t, 6)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_GetMatches_NotComputed(t *testing.T) {
	deps, _ := newTestMCPDeps(t, 6)

	result, err := mcpGetMatches(deps)(context.Background(), makeCallToolRequest("get_matches", map[string]interface{}{
		"cohort_id": "c1",
		"date":      "2025-05-06",
		"viewer":    "p00",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if text := toolText(t, result); !strings.Contains(text, "not computed") {
		t.Errorf("text = %q, want not computed message", text)
	}
}

func TestMCPTool_GetMatches_MissingArgs(t *testing.T) {
	deps, _ := newTestMCPDeps(t, 6)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"no cohort", map[string]interface{}{"date": "2025-05-06", "viewer": "p00"}, "cohort_id is required"},
		{"no viewer", map[string]interface{}{"cohort_id": "c1", "date": "2025-05-06"}, "viewer is required"},
		{"bad date", map[string]interface{}{"cohort_id": "c1", "date": "tuesday", "viewer": "p00"}, "invalid date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := mcpGetMatches(deps)(context.Background(), makeCallToolRequest("get_matches", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			if text := toolText(t, result); !strings.Contains(text, tt.want) {
				t.Errorf("text = %q, want %q", text, tt.want)
			}
		})
	}
}

func TestMCPTool_RunThenGetMatches(t *testing.T) {
	deps, _ := newTestMCPDeps(t, 7)
	ctx := context.Background()

	result, err := mcpRunMatching(deps)(ctx, makeCallToolRequest("run_matching", map[string]interface{}{
		"cohort_id": "c1",
		"date":      "2025-05-06",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("run_matching failed: %s", toolText(t, result))
	}
	var sum RunSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &sum); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if sum.Participants != 7 {
		t.Errorf("participants = %d, want 7", sum.Participants)
	}

	result, err = mcpGetMatches(deps)(ctx, makeCallToolRequest("get_matches", map[string]interface{}{
		"cohort_id": "c1",
		"date":      "2025-05-06",
		"viewer":    "p06",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("get_matches failed: %s", toolText(t, result))
	}
	var got matchesResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding matches: %v", err)
	}
	if len(got.Matches) != 6 {
		t.Errorf("len(matches) = %d, want 6", len(got.Matches))
	}

	// A second run for the same day is a conflict.
	result, err = mcpRunMatching(deps)(ctx, makeCallToolRequest("run_matching", map[string]interface{}{
		"cohort_id": "c1",
		"date":      "2025-05-06",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), string(match.CodeAlreadyComputed)) {
		t.Errorf("second run = %q, want AlreadyComputed error", toolText(t, result))
	}
}

func TestMCPTool_RunMatching_NoRunner(t *testing.T) {
	deps, _ := newTestMCPDeps(t, 6)
	deps.Runner = nil

	result, err := mcpRunMatching(deps)(context.Background(), makeCallToolRequest("run_matching", map[string]interface{}{
		"cohort_id": "c1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result without a runner")
	}
}

func TestMCPTool_ListCohorts(t *testing.T) {
	deps, s := newTestMCPDeps(t, 6)
	if err := s.UpsertCohort(context.Background(), match.Cohort{ID: "c0", Title: "Winter"}); err != nil {
		t.Fatalf("UpsertCohort: %v", err)
	}

	tests := []struct {
		activeOnly bool
		want       int
	}{
		{false, 2},
		{true, 1},
	}
	for _, tt := range tests {
		result, err := mcpListCohorts(deps)(context.Background(), makeCallToolRequest("list_cohorts", map[string]interface{}{
			"active_only": tt.activeOnly,
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var cohorts []match.Cohort
		if err := json.Unmarshal([]byte(toolText(t, result)), &cohorts); err != nil {
			t.Fatalf("decoding cohorts: %v", err)
		}
		if len(cohorts) != tt.want {
			t.Errorf("active_only=%v: got %d cohorts, want %d", tt.activeOnly, len(cohorts), tt.want)
		}
	}
}

func TestMCPResource_RecentRuns(t *testing.T) {
	deps, _ := newTestMCPDeps(t, 6)
	ctx := context.Background()
	if _, err := deps.Runner.Run(ctx, pipeline.Request{CohortID: "c1", Date: day}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	contents, err := mcpResourceRecentRuns(deps)(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: recentRunsURI},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var runs []storage.Run
	if err := json.Unmarshal([]byte(tc.Text), &runs); err != nil {
		t.Fatalf("decoding runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ResultKey != "c1-1-2025-05-06" {
		t.Errorf("runs = %+v, want the one c1 run", runs)
	}
}
