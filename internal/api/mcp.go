package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/faqscope/internal/ingest"
	"github.com/kalambet/faqscope/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// clusterSummary is the compact per-cluster view returned by latest_run.
type clusterSummary struct {
	Label        int    `json:"label"`
	TopicLabel   string `json:"topic_label"`
	MessageCount int    `json:"message_count"`
	Coverage     string `json:"coverage"`
	Score        int    `json:"score"`
	MatchedFAQID string `json:"matched_faq_id,omitempty"`
}

// NewMCPServer creates an MCP server with the faqscope tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"faqscope",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("faqscope clusters support messages and reports how well the FAQ covers each cluster."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("latest_run",
			mcp.WithDescription("Return the latest persisted cluster run with a summary line per cluster."),
		),
		mcpLatestRun(deps),
	)

	s.AddTool(
		mcp.NewTool("cluster_results",
			mcp.WithDescription("Return the full cluster results of a run, or of one cluster within it."),
			mcp.WithString("run_id", mcp.Description("Run id"), mcp.Required()),
			mcp.WithNumber("label", mcp.Description("Optional cluster label")),
		),
		mcpClusterResults(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_run",
			mcp.WithDescription("Queue a new clustering run. The worker processes it asynchronously."),
			mcp.WithString("notes", mcp.Description("Free-form notes stored on the run")),
			mcp.WithBoolean("embed_first", mcp.Description("Embed pending messages and FAQs before the run")),
		),
		mcpTriggerRun(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"faqscope://runs/latest",
			"Latest Run",
			mcp.WithResourceDescription("Latest persisted run with its cluster results as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLatest(deps),
	)

	return s
}

func mcpLatestRun(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		run, err := deps.Store.LatestRun(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("no persisted run yet"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get latest run: %v", err)), nil
		}
		results, err := deps.Store.ListClusterResults(ctx, run.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list clusters: %v", err)), nil
		}

		summaries := make([]clusterSummary, len(results))
		for i, r := range results {
			summaries[i] = clusterSummary{
				Label:        r.ClusterLabel,
				TopicLabel:   r.TopicLabel,
				MessageCount: r.MessageCount,
				Coverage:     r.CoverageLabel,
				Score:        r.ResolutionScore,
				MatchedFAQID: r.MatchedFAQID,
			}
		}

		b, err := json.Marshal(map[string]any{
			"id":         run.ID,
			"created_at": run.CreatedAt,
			"notes":      run.Notes,
			"clusters":   summaries,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal run: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClusterResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}
		if _, err := deps.Store.GetRun(ctx, runID); errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("run %s not found", runID)), nil
		} else if err != nil {
			return mcpError(fmt.Sprintf("failed to get run: %v", err)), nil
		}

		results, err := deps.Store.ListClusterResults(ctx, runID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list clusters: %v", err)), nil
		}

		label := req.GetInt("label", -1)
		if label >= 0 {
			var found []storage.ClusterResult
			for _, r := range results {
				if r.ClusterLabel == label {
					found = append(found, r)
				}
			}
			if len(found) == 0 {
				return mcpError(fmt.Sprintf("cluster %d not found in run %s", label, runID)), nil
			}
			results = found
		}
		if results == nil {
			results = []storage.ClusterResult{}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTriggerRun(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload := ingest.ClusterRunPayload{
			Notes:      req.GetString("notes", ""),
			EmbedFirst: req.GetBool("embed_first", false),
		}
		id, err := ingest.EnqueueClusterRun(ctx, deps.Store, payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue run: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued cluster run job %s", id)), nil
	}
}

func mcpResourceLatest(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		run, err := deps.Store.LatestRun(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest run: %w", err)
		}
		clusters, err := deps.Store.ListClusterResults(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list clusters: %w", err)
		}

		b, err := json.Marshal(RunDetail{Run: run, Clusters: clusters})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run: %w", err)
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
