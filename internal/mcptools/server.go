package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

const instructions = `sage keeps a profile of how this learner studies.
Call learning_context or personalized_prompt before answering a study question
and adapt your explanation to it. Record quiz answers with track_quiz so the
profile stays current.`

// Tool is an MCP tool definition with its handler.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// NewServer creates an MCP server with every sage tool registered.
func NewServer(t Tracker) *server.MCPServer {
	s := server.NewMCPServer(
		"sage",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, tool := range Tools(t) {
		s.AddTool(tool.Definition(), tool.Handle)
	}
	return s
}

// Tools returns every tool bound to t.
func Tools(t Tracker) []Tool {
	return []Tool{
		NewContextTool(t),
		NewSystemPromptTool(t),
		NewEnhanceTool(t),
		NewRecommendTool(t),
		NewQuizTool(t),
		NewNoteTool(t),
		NewSearchTool(t),
	}
}
