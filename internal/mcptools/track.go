package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/event"
	"github.com/Atharva-Kanherkar/sage/internal/recorder"
	"github.com/mark3labs/mcp-go/mcp"
)

// QuizTool handles the track_quiz MCP tool.
type QuizTool struct {
	tracker Tracker
}

// NewQuizTool creates a QuizTool.
func NewQuizTool(t Tracker) *QuizTool {
	return &QuizTool{tracker: t}
}

// Definition returns the MCP tool definition for track_quiz.
func (t *QuizTool) Definition() mcp.Tool {
	return mcp.NewTool("track_quiz",
		mcp.WithDescription("Record the learner's answer to a quiz question. Correct answers raise the topic's strength, incorrect ones lower it."),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Topic the question tests (e.g. 'derivatives')"),
		),
		mcp.WithBoolean("correct",
			mcp.Required(),
			mcp.Description("Whether the answer was correct"),
		),
		mcp.WithString("quiz_id",
			mcp.Description("Question or quiz identifier"),
		),
		mcp.WithString("subject",
			mcp.Description("Broader subject (e.g. 'calculus')"),
		),
		mcp.WithString("difficulty",
			mcp.Description("easy, medium or hard"),
		),
		mcp.WithNumber("time_spent_seconds",
			mcp.Description("Seconds spent on the question"),
		),
	)
}

// Handle processes the track_quiz tool call.
func (t *QuizTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "")
	if topic == "" {
		return mcp.NewToolResultError("'topic' is required"), nil
	}
	if _, ok := req.GetArguments()["correct"]; !ok {
		return mcp.NewToolResultError("'correct' is required"), nil
	}
	correct := req.GetBool("correct", false)

	t.tracker.TrackQuizPerformance(req.GetString("quiz_id", ""), correct, recorder.QuizMeta{
		Subject:    req.GetString("subject", ""),
		Topic:      topic,
		Difficulty: req.GetString("difficulty", ""),
		TimeSpent:  seconds(req.GetFloat("time_spent_seconds", 0)),
	})

	outcome := "incorrect"
	if correct {
		outcome = "correct"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Recorded %s answer on %q", outcome, topic)), nil
}

// NoteTool handles the track_note MCP tool.
type NoteTool struct {
	tracker Tracker
}

// NewNoteTool creates a NoteTool.
func NewNoteTool(t Tracker) *NoteTool {
	return &NoteTool{tracker: t}
}

// Definition returns the MCP tool definition for track_note.
func (t *NoteTool) Definition() mcp.Tool {
	return mcp.NewTool("track_note",
		mcp.WithDescription("Record that the learner viewed or edited a note. Word counts shape the preferred explanation length."),
		mcp.WithString("note_id",
			mcp.Required(),
			mcp.Description("Note identifier"),
		),
		mcp.WithString("action",
			mcp.Description("What happened to the note (default: view)"),
		),
		mcp.WithString("subject",
			mcp.Description("Subject of the note"),
		),
		mcp.WithNumber("word_count",
			mcp.Description("Number of words in the note"),
		),
		mcp.WithNumber("duration_seconds",
			mcp.Description("Seconds spent on the note"),
		),
	)
}

// Handle processes the track_note tool call.
func (t *NoteTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	noteID := req.GetString("note_id", "")
	if noteID == "" {
		return mcp.NewToolResultError("'note_id' is required"), nil
	}
	action := req.GetString("action", event.ActionView)

	t.tracker.TrackNoteActivity(noteID, action, recorder.NoteMeta{
		Subject:   req.GetString("subject", ""),
		WordCount: req.GetInt("word_count", 0),
		Duration:  seconds(req.GetFloat("duration_seconds", 0)),
	})
	return mcp.NewToolResultText(fmt.Sprintf("Recorded note %s: %s", action, noteID)), nil
}

// SearchTool handles the track_search MCP tool.
type SearchTool struct {
	tracker Tracker
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(t Tracker) *SearchTool {
	return &SearchTool{tracker: t}
}

// Definition returns the MCP tool definition for track_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("track_search",
		mcp.WithDescription("Record a search the learner ran and which results they opened."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The search query"),
		),
		mcp.WithArray("results",
			mcp.WithStringItems(),
			mcp.Description("IDs of the results shown, in order"),
		),
		mcp.WithArray("clicked",
			mcp.WithStringItems(),
			mcp.Description("IDs of the results the learner opened"),
		),
	)
}

// Handle processes the track_search tool call.
func (t *SearchTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	clicked := make(map[string]bool)
	for _, id := range req.GetStringSlice("clicked", nil) {
		clicked[id] = true
	}

	var results []recorder.SearchResult
	seen := make(map[string]bool)
	for _, id := range req.GetStringSlice("results", nil) {
		results = append(results, recorder.SearchResult{ID: id, Clicked: clicked[id]})
		seen[id] = true
	}
	// Clicked results the caller did not list are still results.
	for _, id := range req.GetStringSlice("clicked", nil) {
		if !seen[id] {
			results = append(results, recorder.SearchResult{ID: id, Clicked: true})
			seen[id] = true
		}
	}

	t.tracker.TrackSearch(query, results)
	return mcp.NewToolResultText(fmt.Sprintf("Recorded search %q (%d results, %d opened)", query, len(results), len(clicked))), nil
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
