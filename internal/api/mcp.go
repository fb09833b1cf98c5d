package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/studycircle/studycircle/internal/matching"
	"github.com/studycircle/studycircle/internal/storage"
)

// MCPDeps holds dependencies for the MCP server, which exposes the matching
// engine and material recall to external agent hosts over stdio.
type MCPDeps struct {
	Store  *storage.Store
	Engine *matching.Engine
}

// NewMCPServer creates an MCP server with the studycircle tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"studycircle",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("studycircle: study-partner matching and per-user study material recall."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("find_partners",
			mcp.WithDescription("Rank a user's best study-partner candidates by weighted profile compatibility."),
			mcp.WithString("user_id", mcp.Description("The user to find partners for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of matches (default 5)")),
		),
		mcpFindPartners(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_materials",
			mcp.WithDescription("Search a user's ingested study materials by keyword and return matching excerpts."),
			mcp.WithString("user_id", mcp.Description("The owner of the materials"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Keyword or phrase to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecallMaterials(deps),
	)

	return s
}

func mcpFindPartners(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		limit := req.GetInt("limit", 5)

		result, err := deps.Engine.FindMatches(ctx, userID, limit, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("finding matches: %v", err)), nil
		}

		type entry struct {
			ID        string   `json:"id"`
			Name      string   `json:"name"`
			Score     int      `json:"score"`
			Reasoning string   `json:"reasoning"`
			Matched   []string `json:"matched_criteria"`
		}
		entries := make([]entry, 0, len(result.Matches))
		for _, m := range result.Matches {
			entries = append(entries, entry{
				ID:        m.Profile.UserID,
				Name:      m.Profile.FirstName + " " + m.Profile.LastName,
				Score:     m.Score,
				Reasoning: m.Reasoning,
				Matched:   m.MatchedCriteria,
			})
		}

		payload, err := json.Marshal(map[string]any{
			"matches":         entries,
			"total_available": result.TotalAvailable,
			"excluded_count":  result.ExcludedCount,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("marshalling matches: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func mcpRecallMaterials(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)

		found, err := deps.Store.SearchMaterials(userID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("searching materials: %v", err)), nil
		}

		type entry struct {
			Title   string `json:"title"`
			Source  string `json:"source"`
			Excerpt string `json:"excerpt"`
		}
		entries := make([]entry, 0, len(found))
		for _, m := range found {
			excerpt := m.Content
			if len(excerpt) > 500 {
				excerpt = excerpt[:500] + "…"
			}
			entries = append(entries, entry{Title: m.Title, Source: m.Source, Excerpt: excerpt})
		}

		payload, err := json.Marshal(map[string]any{"materials": entries})
		if err != nil {
			return mcpError(fmt.Sprintf("marshalling materials: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError(msg)
}
