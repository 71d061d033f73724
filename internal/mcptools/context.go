// Package mcptools exposes the tracker to generation clients as MCP tools.
package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Atharva-Kanherkar/sage/internal/personalize"
	"github.com/Atharva-Kanherkar/sage/internal/recorder"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tracker is the subset of *tracker.Tracker the tools use.
type Tracker interface {
	GetLearningContext(ctx context.Context) personalize.LearningContext
	PersonalizedSystemPrompt(ctx context.Context) string
	EnhancePrompt(ctx context.Context, prompt string) string
	RecommendedTopics(ctx context.Context) []personalize.Recommendation
	TrackQuizPerformance(quizID string, correct bool, meta recorder.QuizMeta)
	TrackNoteActivity(noteID, action string, meta recorder.NoteMeta)
	TrackSearch(query string, results []recorder.SearchResult)
}

// ContextTool handles the learning_context MCP tool.
type ContextTool struct {
	tracker Tracker
}

// NewContextTool creates a ContextTool.
func NewContextTool(t Tracker) *ContextTool {
	return &ContextTool{tracker: t}
}

// Definition returns the MCP tool definition for learning_context.
func (t *ContextTool) Definition() mcp.Tool {
	return mcp.NewTool("learning_context",
		mcp.WithDescription(
			"Get the learner's profile: topic strengths (0-100), weak areas, content preferences, "+
				"study patterns and a ready-to-use prompt block. Call this before answering a study question.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the learning_context tool call.
func (t *ContextTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lc := t.tracker.GetLearningContext(ctx)
	res, err := mcp.NewToolResultJSON(lc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode learning context: %v", err)), nil
	}
	return res, nil
}

// SystemPromptTool handles the personalized_prompt MCP tool.
type SystemPromptTool struct {
	tracker Tracker
}

// NewSystemPromptTool creates a SystemPromptTool.
func NewSystemPromptTool(t Tracker) *SystemPromptTool {
	return &SystemPromptTool{tracker: t}
}

// Definition returns the MCP tool definition for personalized_prompt.
func (t *SystemPromptTool) Definition() mcp.Tool {
	return mcp.NewTool("personalized_prompt",
		mcp.WithDescription("Get system-prompt instructions tailored to the learner's weak areas, strengths and style."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the personalized_prompt tool call.
func (t *SystemPromptTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := t.tracker.PersonalizedSystemPrompt(ctx)
	if prompt == "" {
		return mcp.NewToolResultText("No learning profile yet. Answer normally."), nil
	}
	return mcp.NewToolResultText(prompt), nil
}

// EnhanceTool handles the enhance_prompt MCP tool.
type EnhanceTool struct {
	tracker Tracker
}

// NewEnhanceTool creates an EnhanceTool.
func NewEnhanceTool(t Tracker) *EnhanceTool {
	return &EnhanceTool{tracker: t}
}

// Definition returns the MCP tool definition for enhance_prompt.
func (t *EnhanceTool) Definition() mcp.Tool {
	return mcp.NewTool("enhance_prompt",
		mcp.WithDescription("Prefix a prompt with the learner's profile block. Returns the prompt unchanged when there is no profile."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The prompt to personalize"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the enhance_prompt tool call.
func (t *EnhanceTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := req.GetString("prompt", "")
	if strings.TrimSpace(prompt) == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}
	return mcp.NewToolResultText(t.tracker.EnhancePrompt(ctx, prompt)), nil
}

// RecommendTool handles the recommended_topics MCP tool.
type RecommendTool struct {
	tracker Tracker
}

// NewRecommendTool creates a RecommendTool.
func NewRecommendTool(t Tracker) *RecommendTool {
	return &RecommendTool{tracker: t}
}

// Definition returns the MCP tool definition for recommended_topics.
func (t *RecommendTool) Definition() mcp.Tool {
	return mcp.NewTool("recommended_topics",
		mcp.WithDescription("Suggest what the learner should study next: weak areas first, then advanced material for strong topics."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the recommended_topics tool call.
func (t *RecommendTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recs := t.tracker.RecommendedTopics(ctx)
	if len(recs) == 0 {
		return mcp.NewToolResultText("No recommendations yet. Track some quiz answers first."), nil
	}

	var b strings.Builder
	for i, r := range recs {
		fmt.Fprintf(&b, "%d. %s [%s] %s (strength %d)\n", i+1, r.Topic, r.Priority, r.Reason, r.Strength)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}
