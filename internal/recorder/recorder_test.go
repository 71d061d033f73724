package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/event"
	"github.com/Atharva-Kanherkar/sage/internal/insights"
	"github.com/Atharva-Kanherkar/sage/internal/metrics"
	"github.com/Atharva-Kanherkar/sage/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	events  []event.Event
	err     error
	panics  bool
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeStore) Append(ctx context.Context, e *event.Event) (int64, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.panics {
		panic("store exploded")
	}
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.events) + 1)
	f.events = append(f.events, *e)
	return e.ID, nil
}

func (f *fakeStore) stored() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.events...)
}

type strengthCall struct {
	topic   string
	correct bool
}

type fakeUpdater struct {
	mu        sync.Mutex
	strengths []strengthCall
	starts    []time.Time
}

func (f *fakeUpdater) UpdateTopicStrength(_ context.Context, topic string, correct bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strengths = append(f.strengths, strengthCall{topic, correct})
	return nil
}

func (f *fakeUpdater) UpdateStudyTimePattern(_ context.Context, start time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, start)
	return nil
}

func newTestRecorder(t *testing.T, store Appender, updater Updater) (*Recorder, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	r := New(Config{
		Store:   store,
		Updater: updater,
		Logger:  zap.NewNop(),
		Metrics: m,
	})
	t.Cleanup(func() { r.Close() })
	return r, m
}

func flush(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func TestRecorder_PreservesCallOrder(t *testing.T) {
	store := &fakeStore{}
	r, _ := newTestRecorder(t, store, nil)

	for i := 0; i < 100; i++ {
		r.RecordEvent(event.CategoryNote, "edit", event.Data{"n": i})
	}
	flush(t, r)

	events := store.stored()
	require.Len(t, events, 100)
	for i, e := range events {
		assert.Equal(t, i, e.Data["n"])
	}
}

func TestRecorder_StampsEvents(t *testing.T) {
	store := &fakeStore{}
	r, _ := newTestRecorder(t, store, nil)

	before := time.Now().UnixMilli()
	r.SetCurrentTopic("physics")
	r.TrackSearch("entropy", []SearchResult{{ID: "a"}, {ID: "b", Clicked: true}})
	r.TrackNoteActivity("n1", "edit", NoteMeta{Subject: "chemistry", WordCount: 320})
	r.TrackNoteActivity("n2", "view", NoteMeta{})
	flush(t, r)

	events := store.stored()
	require.Len(t, events, 3)

	search := events[0]
	assert.Equal(t, event.CategorySearch, search.Category)
	assert.Equal(t, event.ActionQuery, search.Action)
	assert.Equal(t, "physics", search.Subject)
	assert.Equal(t, r.SessionID(), search.SessionID)
	assert.GreaterOrEqual(t, search.Timestamp, before)
	assert.Equal(t, 2, search.Data["resultCount"])
	assert.Equal(t, []string{"b"}, search.Data["clicked"])

	assert.Equal(t, "chemistry", events[1].Subject)
	assert.Equal(t, 320, events[1].Data["wordCount"])
	assert.Equal(t, "physics", events[2].Subject)
	assert.Equal(t, "physics", events[2].Data["subject"])
}

func TestRecorder_SessionIDIsStable(t *testing.T) {
	r, _ := newTestRecorder(t, &fakeStore{}, nil)
	other, _ := newTestRecorder(t, &fakeStore{}, nil)

	assert.NotEmpty(t, r.SessionID())
	assert.Equal(t, r.SessionID(), r.SessionID())
	assert.NotEqual(t, r.SessionID(), other.SessionID())
}

func TestRecorder_QuizFeedsUpdater(t *testing.T) {
	store := &fakeStore{}
	updater := &fakeUpdater{}
	r, m := newTestRecorder(t, store, updater)

	r.TrackQuizPerformance("q1", true, QuizMeta{Topic: "algebra", Difficulty: "easy", TimeSpent: 1500 * time.Millisecond, Attempts: 2})
	r.TrackQuizPerformance("q2", false, QuizMeta{Topic: "algebra"})
	flush(t, r)

	events := store.stored()
	require.Len(t, events, 2)
	assert.Equal(t, event.ActionCorrect, events[0].Action)
	assert.Equal(t, "algebra", events[0].Data["topic"])
	assert.Equal(t, int64(1500), events[0].Data["timeSpent"])
	assert.Equal(t, event.ActionIncorrect, events[1].Action)

	updater.mu.Lock()
	defer updater.mu.Unlock()
	assert.Equal(t, []strengthCall{{"algebra", true}, {"algebra", false}}, updater.strengths)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsRecorded.WithLabelValues("quiz")))
}

func TestRecorder_StudySessionFeedsUpdater(t *testing.T) {
	store := &fakeStore{}
	updater := &fakeUpdater{}
	r, _ := newTestRecorder(t, store, updater)

	start := time.Date(2024, 2, 1, 19, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	r.TrackStudySession("history", 45*time.Minute, StudyMeta{Start: start, End: end, FocusScore: 0.8})
	flush(t, r)

	events := store.stored()
	require.Len(t, events, 1)
	assert.Equal(t, event.ActionSession, events[0].Action)
	assert.Equal(t, int64(2700), events[0].Data["duration"])
	assert.Equal(t, start.UnixMilli(), events[0].Data["startTime"])
	assert.Equal(t, end.UnixMilli(), events[0].Data["endTime"])

	updater.mu.Lock()
	defer updater.mu.Unlock()
	require.Len(t, updater.starts, 1)
	assert.True(t, start.Equal(updater.starts[0]))
}

func TestRecorder_TrackStudyPeriodIgnoresShortSessions(t *testing.T) {
	store := &fakeStore{}
	r, _ := newTestRecorder(t, store, &fakeUpdater{})

	start := time.Now().Add(-time.Minute)
	assert.False(t, r.TrackStudyPeriod("math", start, start.Add(5*time.Second)))
	assert.False(t, r.TrackStudyPeriod("math", time.Time{}, start))
	assert.True(t, r.TrackStudyPeriod("", start, start.Add(6*time.Second)))
	flush(t, r)

	events := store.stored()
	require.Len(t, events, 1)
	assert.Equal(t, DefaultStudySubject, events[0].Subject)
	assert.Equal(t, int64(6), events[0].Data["duration"])
}

func TestRecorder_EngagementDefaults(t *testing.T) {
	store := &fakeStore{}
	r, _ := newTestRecorder(t, store, nil)

	r.TrackEngagement("article-1", "", EngagementMeta{ScrollDepth: 72, TimeOnPage: 90 * time.Second})
	flush(t, r)

	events := store.stored()
	require.Len(t, events, 1)
	assert.Equal(t, event.ActionView, events[0].Action)
	assert.Equal(t, 72.0, events[0].Data["scrollDepth"])
	assert.Equal(t, int64(90000), events[0].Data["timeOnPage"])
	assert.NotContains(t, events[0].Data, "interactions")
}

func TestRecorder_StoreFailureNeverReachesCaller(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	updater := &fakeUpdater{}
	r, m := newTestRecorder(t, store, updater)

	assert.NotPanics(t, func() {
		r.TrackQuizPerformance("q1", true, QuizMeta{Topic: "algebra"})
	})
	flush(t, r)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordErrors))
	updater.mu.Lock()
	defer updater.mu.Unlock()
	assert.Empty(t, updater.strengths)
}

func TestRecorder_StorePanicKeepsWriterAlive(t *testing.T) {
	store := &fakeStore{panics: true}
	r, m := newTestRecorder(t, store, nil)

	r.RecordEvent(event.CategoryNote, "edit", nil)
	r.RecordEvent(event.CategoryNote, "edit", nil)
	flush(t, r)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordErrors))
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	store := &fakeStore{
		entered: make(chan struct{}, 3),
		gate:    make(chan struct{}),
	}
	m := metrics.New()
	r := New(Config{Store: store, QueueSize: 1, Metrics: m})
	defer r.Close()

	r.RecordEvent(event.CategoryNote, "first", nil)
	<-store.entered // the writer holds "first"

	done := make(chan struct{})
	go func() {
		r.RecordEvent(event.CategoryNote, "second", nil) // fills the queue
		r.RecordEvent(event.CategoryNote, "third", nil)  // dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordEvent blocked on a full queue")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))

	close(store.gate)
	flush(t, r)

	events := store.stored()
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Action)
	assert.Equal(t, "second", events[1].Action)
}

func TestRecorder_UnknownCategoryIsDropped(t *testing.T) {
	store := &fakeStore{}
	r, _ := newTestRecorder(t, store, nil)

	r.RecordEvent(event.Category("telemetry"), "x", nil)
	flush(t, r)

	assert.Empty(t, store.stored())
}

func TestRecorder_Close(t *testing.T) {
	store := &fakeStore{}
	m := metrics.New()
	r := New(Config{Store: store, Metrics: m})

	r.RecordEvent(event.CategoryNote, "edit", nil)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	// Close drains what was queued.
	assert.Len(t, store.stored(), 1)

	r.RecordEvent(event.CategoryNote, "late", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.ErrorIs(t, r.Flush(context.Background()), ErrClosed)
}

func TestRecorder_FlushHonorsContext(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	r := New(Config{Store: store})
	defer func() {
		close(store.gate)
		r.Close()
	}()

	r.RecordEvent(event.CategoryNote, "edit", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Flush(ctx), context.DeadlineExceeded)
}

func TestRecorder_WithRealStoreAndEngine(t *testing.T) {
	db, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	engine := insights.NewEngine(insights.EngineConfig{Store: db})
	r, _ := newTestRecorder(t, db, engine)
	ctx := context.Background()

	r.TrackQuizPerformance("q1", true, QuizMeta{Topic: "algebra"})
	r.TrackQuizPerformance("q2", true, QuizMeta{Topic: "algebra"})
	r.TrackQuizPerformance("q3", false, QuizMeta{Topic: "geometry"})
	flush(t, r)

	strengths, err := engine.Profile().TopicStrengths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, strengths["algebra"])
	assert.Equal(t, 42, strengths["geometry"])

	events, err := db.Scan(ctx, event.CategoryQuiz, 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
