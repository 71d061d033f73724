package insights

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/event"
	"github.com/Atharva-Kanherkar/sage/internal/metrics"
	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(EngineConfig{
		Store:  newTestDB(t),
		Batch:  BatchConfig{Location: time.UTC},
		Logger: zap.NewNop(),
	})
}

func TestNextStrength(t *testing.T) {
	assert.Equal(t, 55, NextStrength(50, true))
	assert.Equal(t, 42, NextStrength(50, false))
	assert.Equal(t, 100, NextStrength(98, true))
	assert.Equal(t, 0, NextStrength(3, false))
}

func TestNextStrength_StaysInBounds(t *testing.T) {
	score := profile.DefaultScore
	// Deterministic pseudo-random answer sequence.
	seed := uint32(7)
	for i := 0; i < 1000; i++ {
		seed = seed*1103515245 + 12345
		score = NextStrength(score, seed&0x10000 != 0)
		require.GreaterOrEqual(t, score, profile.MinScore)
		require.LessOrEqual(t, score, profile.MaxScore)
	}
}

func TestEngine_UpdateTopicStrength(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.UpdateTopicStrength(ctx, "algebra", true))
	require.NoError(t, e.UpdateTopicStrength(ctx, "geometry", false))
	require.NoError(t, e.UpdateTopicStrength(ctx, "", true))

	strengths, err := e.Profile().TopicStrengths(ctx)
	require.NoError(t, err)
	assert.Equal(t, profile.TopicStrengths{"algebra": 55, "geometry": 42}, strengths)
}

func TestEngine_UpdateTopicStrength_ZeroIsAScore(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Profile().PutTopicStrengths(ctx, profile.TopicStrengths{"algebra": 0}))
	require.NoError(t, e.UpdateTopicStrength(ctx, "algebra", true))

	strengths, err := e.Profile().TopicStrengths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, strengths["algebra"])
}

func TestEngine_UpdateTopicStrength_Serialized(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.UpdateTopicStrength(ctx, "up", true))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, e.UpdateTopicStrength(ctx, "down", false))
		}()
	}
	wg.Wait()

	strengths, err := e.Profile().TopicStrengths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, strengths["up"])
	assert.Equal(t, 2, strengths["down"])
}

func TestEngine_UpdateStudyTimePattern(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.UpdateStudyTimePattern(ctx, time.Date(2024, 5, 1, 21, 15, 0, 0, time.UTC)))
	require.NoError(t, e.UpdateStudyTimePattern(ctx, time.Date(2024, 5, 2, 21, 45, 0, 0, time.UTC)))
	require.NoError(t, e.UpdateStudyTimePattern(ctx, time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC)))
	require.NoError(t, e.UpdateStudyTimePattern(ctx, time.Time{}))

	hours, err := e.Profile().StudyHours(ctx)
	require.NoError(t, err)
	assert.Equal(t, profile.StudyHours{21: 2, 6: 1}, hours)
}

func TestEngine_BatchOverridesDrift(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(EngineConfig{Store: db, Batch: BatchConfig{Location: time.UTC}})
	ctx := context.Background()

	require.NoError(t, e.Profile().PutTopicStrengths(ctx, profile.TopicStrengths{"algebra": 90}))
	require.NoError(t, e.UpdateTopicStrength(ctx, "algebra", true))

	strengths, err := e.Profile().TopicStrengths(ctx)
	require.NoError(t, err)
	require.Equal(t, 95, strengths["algebra"])

	seedQuiz(t, db, "algebra", 31, 19)

	report := e.RunAnalysis(ctx)
	require.False(t, report.Degraded())

	strengths, err = e.Profile().TopicStrengths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 62, strengths["algebra"])
}

func TestEngine_ClearWipesEverything(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(EngineConfig{Store: db})
	ctx := context.Background()

	seedQuiz(t, db, "algebra", 1, 4)
	seed(t, db, event.CategoryNote, "edit", event.Data{"wordCount": 100})
	require.False(t, e.RunAnalysis(ctx).Degraded())
	require.NoError(t, e.UpdateStudyTimePattern(ctx, time.Now()))

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	require.False(t, snap.Empty())

	require.NoError(t, e.Clear(ctx))
	require.NoError(t, e.Clear(ctx))

	snap, err = e.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())

	events, err := db.Scan(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEngine_ClearWaitsForInFlightUpdates(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(EngineConfig{Store: db})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.UpdateTopicStrength(ctx, "algebra", true)
		}()
	}
	require.NoError(t, e.Clear(ctx))
	wg.Wait()

	// Every update either landed before the wipe or after it, so the
	// score is always a whole number of steps from the default.
	strengths, err := e.Profile().TopicStrengths(ctx)
	require.NoError(t, err)
	if score, ok := strengths["algebra"]; ok {
		assert.Equal(t, 0, (score-profile.DefaultScore)%CorrectDelta)
	}
}

func TestEngine_OnUpdate(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(EngineConfig{Store: db})
	ctx := context.Background()

	var mu sync.Mutex
	var updates []Update
	e.OnUpdate(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, u)
	})

	require.NoError(t, e.UpdateTopicStrength(ctx, "algebra", true))
	e.RunAnalysis(ctx)
	require.NoError(t, e.Clear(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 3)
	assert.Equal(t, SourceIncremental, updates[0].Source)
	assert.Equal(t, []string{profile.KeyTopicStrengths}, updates[0].Keys)
	assert.Equal(t, SourceBatch, updates[1].Source)
	assert.Len(t, updates[1].Keys, 4)
	assert.Equal(t, SourceClear, updates[2].Source)
}

func TestEngine_RunAnalysisRecordsMetrics(t *testing.T) {
	db := newTestDB(t)
	m := metrics.New()
	e := NewEngine(EngineConfig{
		Store:   flakyStore{Store: db, fail: event.CategoryStudy},
		Metrics: m,
	})

	report := e.RunAnalysis(context.Background())
	require.True(t, report.Degraded())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisRuns.WithLabelValues(metrics.StatusDegraded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubanalysisErrors.WithLabelValues(string(AnalysisStudyPatterns))))
}

// flakyStore fails event scans of one category.
type flakyStore struct {
	Store
	fail event.Category
}

func (f flakyStore) Scan(ctx context.Context, category event.Category, limit int) ([]event.Event, error) {
	return flakyEvents{EventSource: f.Store, fail: f.fail}.Scan(ctx, category, limit)
}
