package mcptools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/personalize"
	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"github.com/Atharva-Kanherkar/sage/internal/recorder"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quizCall struct {
	id      string
	correct bool
	meta    recorder.QuizMeta
}

type noteCall struct {
	id, action string
	meta       recorder.NoteMeta
}

type searchCall struct {
	query   string
	results []recorder.SearchResult
}

type fakeTracker struct {
	snap profile.Snapshot

	mu       sync.Mutex
	quizzes  []quizCall
	notes    []noteCall
	searches []searchCall
}

func (f *fakeTracker) GetLearningContext(context.Context) personalize.LearningContext {
	return personalize.BuildContext(f.snap)
}

func (f *fakeTracker) PersonalizedSystemPrompt(ctx context.Context) string {
	return personalize.SystemPrompt(f.GetLearningContext(ctx))
}

func (f *fakeTracker) EnhancePrompt(ctx context.Context, prompt string) string {
	return personalize.EnhancePrompt(f.GetLearningContext(ctx), prompt)
}

func (f *fakeTracker) RecommendedTopics(ctx context.Context) []personalize.Recommendation {
	return personalize.RecommendedTopics(f.GetLearningContext(ctx))
}

func (f *fakeTracker) TrackQuizPerformance(id string, correct bool, meta recorder.QuizMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quizzes = append(f.quizzes, quizCall{id, correct, meta})
}

func (f *fakeTracker) TrackNoteActivity(id, action string, meta recorder.NoteMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, noteCall{id, action, meta})
}

func (f *fakeTracker) TrackSearch(query string, results []recorder.SearchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, searchCall{query, results})
}

func profiled() *fakeTracker {
	return &fakeTracker{snap: profile.Snapshot{
		TopicStrengths: profile.TopicStrengths{"limits": 30, "vectors": 88},
		WeakAreas:      []profile.WeakArea{{Topic: "limits", Strength: 30}},
		Preferences:    profile.Preferences{PreferredContentLength: profile.LengthShort, EngagementStyle: profile.StyleSkimmer},
	}}
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestTools_Definitions(t *testing.T) {
	names := make([]string, 0)
	for _, tool := range Tools(&fakeTracker{}) {
		names = append(names, tool.Definition().Name)
	}
	assert.Equal(t, []string{
		"learning_context", "personalized_prompt", "enhance_prompt", "recommended_topics",
		"track_quiz", "track_note", "track_search",
	}, names)

	assert.NotNil(t, NewServer(&fakeTracker{}))
}

func TestContextTool(t *testing.T) {
	res, err := NewContextTool(profiled()).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var got personalize.LearningContext
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &got))
	assert.Equal(t, 30, got.Strengths["limits"])
	assert.Contains(t, got.PromptContext, "Student needs help with: limits")
}

func TestSystemPromptTool(t *testing.T) {
	res, err := NewSystemPromptTool(profiled()).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), "struggling with: limits")

	res, err = NewSystemPromptTool(&fakeTracker{}).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Equal(t, "No learning profile yet. Answer normally.", resultText(res))
}

func TestEnhanceTool(t *testing.T) {
	tool := NewEnhanceTool(profiled())

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"prompt": "What is a limit?"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), "[User Profile]")
	assert.Contains(t, resultText(res), "What is a limit?")

	res, err = tool.Handle(context.Background(), makeReq(map[string]interface{}{"prompt": "  "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRecommendTool(t *testing.T) {
	res, err := NewRecommendTool(profiled()).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Equal(t,
		"1. limits [high] Needs improvement (strength 30)\n"+
			"2. vectors - Advanced [medium] Ready for next level (strength 88)",
		resultText(res))

	res, err = NewRecommendTool(&fakeTracker{}).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), "No recommendations yet")
}

func TestQuizTool(t *testing.T) {
	fake := &fakeTracker{}
	tool := NewQuizTool(fake)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"topic":              "limits",
		"correct":            true,
		"quiz_id":            "q7",
		"difficulty":         "hard",
		"time_spent_seconds": 12.5,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, `Recorded correct answer on "limits"`, resultText(res))

	require.Len(t, fake.quizzes, 1)
	assert.Equal(t, "q7", fake.quizzes[0].id)
	assert.True(t, fake.quizzes[0].correct)
	assert.Equal(t, recorder.QuizMeta{Topic: "limits", Difficulty: "hard", TimeSpent: 12500 * time.Millisecond}, fake.quizzes[0].meta)
}

func TestQuizTool_MissingArguments(t *testing.T) {
	fake := &fakeTracker{}
	tool := NewQuizTool(fake)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"correct": true}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tool.Handle(context.Background(), makeReq(map[string]interface{}{"topic": "limits"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, fake.quizzes)
}

func TestNoteTool(t *testing.T) {
	fake := &fakeTracker{}
	tool := NewNoteTool(fake)

	_, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"note_id":    "n1",
		"word_count": float64(900),
		"subject":    "calculus",
	}))
	require.NoError(t, err)

	require.Len(t, fake.notes, 1)
	assert.Equal(t, "view", fake.notes[0].action)
	assert.Equal(t, 900, fake.notes[0].meta.WordCount)
	assert.Equal(t, "calculus", fake.notes[0].meta.Subject)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchTool(t *testing.T) {
	fake := &fakeTracker{}
	tool := NewSearchTool(fake)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"query":   "chain rule",
		"results": []interface{}{"a", "b", "c"},
		"clicked": []interface{}{"b", "z"},
	}))
	require.NoError(t, err)
	assert.Equal(t, `Recorded search "chain rule" (4 results, 2 opened)`, resultText(res))

	require.Len(t, fake.searches, 1)
	assert.Equal(t, []recorder.SearchResult{
		{ID: "a"}, {ID: "b", Clicked: true}, {ID: "c"}, {ID: "z", Clicked: true},
	}, fake.searches[0].results)
}
