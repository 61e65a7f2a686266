package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/praxiscrm/praxis/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Searcher SearchProvider
}

// NewMCPServer creates an MCP server exposing search and pipeline
// introspection so agent clients can query the CRM directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"praxis",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("praxis — practitioner CRM with semantic search over ingested interactions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_interactions",
			mcp.WithDescription("Semantically search a user's embedded interactions and documents."),
			mcp.WithString("user_id", mcp.Description("User whose data to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchInteractions(deps),
	)

	s.AddTool(
		mcp.NewTool("pipeline_status",
			mcp.WithDescription("Report job counts by status for the ingestion pipeline."),
		),
		mcpPipelineStatus(deps),
	)

	return s
}

func mcpSearchInteractions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", defaultSearchLimit)
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		scored, err := deps.Searcher.SearchText(ctx, userID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(scored) == 0 {
			return mcpText("[]"), nil
		}

		results := make([]searchResult, len(scored))
		for i, s := range scored {
			var meta json.RawMessage
			if s.Meta != "" {
				meta = json.RawMessage(s.Meta)
			}
			results[i] = searchResult{
				OwnerType:  s.OwnerType,
				OwnerID:    s.OwnerID,
				ChunkIndex: s.ChunkIndex,
				Meta:       meta,
				Similarity: roundScore(s.Score),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPipelineStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := deps.Store.CountJobsByStatus()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to count jobs: %v", err)), nil
		}

		out := map[string]int{
			storage.JobQueued:     counts[storage.JobQueued],
			storage.JobProcessing: counts[storage.JobProcessing],
			storage.JobDone:       counts[storage.JobDone],
			storage.JobError:      counts[storage.JobError],
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal counts: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
