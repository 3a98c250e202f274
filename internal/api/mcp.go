package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/liao/cinema-bot/internal/pipeline"
	"github.com/liao/cinema-bot/internal/rag"
)

// NewMCPServer 注册影片检索与问答工具
func NewMCPServer(svc Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"cinema-bot",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("cinema-bot answers questions about a fixed film catalog."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_films",
			mcp.WithDescription("Fuzzy search the film catalog by title, synopsis, director or actors."),
			mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of films (default 3)")),
		),
		mcpSearchFilms(svc),
	)

	s.AddTool(
		mcp.NewTool("ask_films",
			mcp.WithDescription("Answer a question about films using the catalog; the exchange is recorded in the user's history."),
			mcp.WithNumber("user_id", mcp.Description("User identifier the exchange is recorded under"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Question in natural language"), mcp.Required()),
		),
		mcpAskFilms(svc),
	)

	return s
}

func mcpSearchFilms(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", rag.DefaultTopK)
		if limit <= 0 {
			limit = rag.DefaultTopK
		}

		cands := svc.Search(query, limit)
		if len(cands) == 0 {
			return mcpText("No films matched."), nil
		}
		var b strings.Builder
		for i, c := range cands {
			fmt.Fprintf(&b, "%d. %s (%d), %s [score %d]\n", i+1, c.Film.Title, c.Film.Year, c.Film.Director, c.Score)
		}
		return mcpText(b.String()), nil
	}
}

func mcpAskFilms(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		userID := int64(req.GetInt("user_id", 0))

		reply, err := svc.Answer(ctx, userID, query)
		switch {
		case errors.Is(err, pipeline.ErrEmptyQuery):
			return mcpError("query is required"), nil
		case errors.Is(err, pipeline.ErrHistoryWrite):
			return mcpError(fmt.Sprintf("answer was not recorded in history: %s", reply.Text)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(reply.Text), nil
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
