// Package tracker is the single entry point applications use to record
// learning activity and read back personalization.
//
// A Tracker builds its store, engine and recorder on first use. If that
// fails the tracker degrades: tracking calls do nothing, contexts are
// empty and prompts pass through unchanged. Initialization is retried on
// later calls, at most once per configured retry interval.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/config"
	"github.com/Atharva-Kanherkar/sage/internal/daemon"
	"github.com/Atharva-Kanherkar/sage/internal/event"
	"github.com/Atharva-Kanherkar/sage/internal/insights"
	"github.com/Atharva-Kanherkar/sage/internal/metrics"
	"github.com/Atharva-Kanherkar/sage/internal/personalize"
	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"github.com/Atharva-Kanherkar/sage/internal/recorder"
	"github.com/Atharva-Kanherkar/sage/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned by operations that need the engine when it
// could not be initialized.
var ErrUnavailable = errors.New("tracker: engine unavailable")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("tracker: closed")

// Options configures a Tracker.
type Options struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Schedule starts the periodic analyzer, and the socket and metrics
	// endpoint when configured, as part of initialization.
	Schedule bool
}

// Tracker records activity and serves personalization.
type Tracker struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	schedule bool
	now      func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	svc      *services
	closed   bool
	lastFail time.Time
	lastErr  error
	topic    string
}

type services struct {
	store    *storage.Store
	engine   *insights.Engine
	recorder *recorder.Recorder
	manager  *daemon.Manager
}

// New returns a Tracker. Nothing is opened until first use.
func New(opts Options) *Tracker {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Tracker{
		cfg:      cfg,
		logger:   logger.Named("tracker"),
		metrics:  m,
		schedule: opts.Schedule,
		now:      time.Now,
	}
}

// Metrics returns the tracker's metrics.
func (t *Tracker) Metrics() *metrics.Metrics {
	return t.metrics
}

// Ready initializes the tracker if needed and reports why it is
// unavailable, if it is.
func (t *Tracker) Ready() error {
	if t.services() != nil {
		return nil
	}
	return t.unavailable()
}

// services returns the initialized components, or nil when the tracker is
// degraded or closed.
func (t *Tracker) services() *services {
	t.mu.RLock()
	svc, closed, lastFail := t.svc, t.closed, t.lastFail
	t.mu.RUnlock()

	if svc != nil {
		return svc
	}
	if closed {
		return nil
	}
	if !lastFail.IsZero() && t.now().Sub(lastFail) < t.cfg.Tracker.InitRetry {
		return nil
	}

	v, _, _ := t.group.Do("init", func() (any, error) {
		t.mu.RLock()
		svc := t.svc
		t.mu.RUnlock()
		if svc != nil {
			return svc, nil
		}

		svc, err := t.build()

		t.mu.Lock()
		defer t.mu.Unlock()
		if err != nil {
			t.lastFail = t.now()
			t.lastErr = err
			t.logger.Error("initialization failed, personalization disabled",
				zap.Error(err),
				zap.Duration("retry_after", t.cfg.Tracker.InitRetry))
			return nil, err
		}
		if t.closed {
			svc.close(t.logger)
			return nil, ErrClosed
		}
		if t.topic != "" {
			svc.recorder.SetCurrentTopic(t.topic)
		}
		t.svc = svc
		t.lastErr = nil
		return svc, nil
	})

	svc, _ = v.(*services)
	return svc
}

func (t *Tracker) build() (*services, error) {
	if err := t.cfg.EnsureStorageDir(); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	loc, err := t.cfg.Analysis.Location()
	if err != nil {
		return nil, err
	}

	store, err := storage.New(t.cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	engine := insights.NewEngine(insights.EngineConfig{
		Store: store,
		Batch: insights.BatchConfig{
			StrengthWindow:   t.cfg.Analysis.StrengthWindow,
			StudyWindow:      t.cfg.Analysis.StudyWindow,
			PreferenceWindow: t.cfg.Analysis.PreferenceWindow,
			KnownTopics:      t.cfg.Analysis.KnownTopics,
			Location:         loc,
		},
		Logger:  t.logger,
		Metrics: t.metrics,
	})

	rec := recorder.New(recorder.Config{
		Store:     store,
		Updater:   engine,
		QueueSize: t.cfg.Recorder.QueueSize,
		Logger:    t.logger,
		Metrics:   t.metrics,
	})

	svc := &services{store: store, engine: engine, recorder: rec}

	if t.schedule {
		dcfg := daemon.Config{
			InitialDelay: t.cfg.Analysis.InitialDelay,
			Interval:     t.cfg.Analysis.Interval,
			MetricsAddr:  t.cfg.Metrics.Addr,
			Metrics:      t.metrics,
		}
		if t.cfg.Notify.Enabled {
			dcfg.SocketPath = t.cfg.SocketPath()
		}
		mgr := daemon.NewManager(engine, dcfg, t.logger)
		if err := mgr.Start(context.Background()); err != nil {
			svc.close(t.logger)
			return nil, err
		}
		svc.manager = mgr
	}

	t.logger.Info("tracker ready",
		zap.String("db", store.Path()),
		zap.String("session", rec.SessionID()),
		zap.Bool("scheduled", t.schedule))
	return svc, nil
}

func (s *services) close(logger *zap.Logger) error {
	if s.manager != nil {
		s.manager.Stop()
	}
	// Drain pending events before the store goes away.
	s.recorder.Close()
	if err := s.store.Close(); err != nil {
		logger.Warn("close store", zap.Error(err))
		return err
	}
	return nil
}

// Close stops the scheduler, drains pending events and closes the store.
func (t *Tracker) Close() error {
	t.mu.Lock()
	svc := t.svc
	t.svc = nil
	t.closed = true
	t.mu.Unlock()

	if svc == nil {
		return nil
	}
	return svc.close(t.logger)
}

// rec returns the recorder for tracking calls, or nil when tracking is
// paused or unavailable.
func (t *Tracker) rec() *recorder.Recorder {
	if t.cfg.Paused {
		return nil
	}
	if svc := t.services(); svc != nil {
		return svc.recorder
	}
	return nil
}

// SessionID returns the id stamped on this process's events, or "" when
// unavailable.
func (t *Tracker) SessionID() string {
	if svc := t.services(); svc != nil {
		return svc.recorder.SessionID()
	}
	return ""
}

// SetCurrentTopic sets the ambient topic used when an event has no subject.
func (t *Tracker) SetCurrentTopic(topic string) {
	t.mu.Lock()
	t.topic = topic
	svc := t.svc
	t.mu.Unlock()

	if svc != nil {
		svc.recorder.SetCurrentTopic(topic)
	}
}

// RecordEvent records a generic event.
func (t *Tracker) RecordEvent(category event.Category, action string, data event.Data) {
	if r := t.rec(); r != nil {
		r.RecordEvent(category, action, data)
	}
}

// TrackNoteActivity records a note view or edit.
func (t *Tracker) TrackNoteActivity(noteID, action string, meta recorder.NoteMeta) {
	if r := t.rec(); r != nil {
		r.TrackNoteActivity(noteID, action, meta)
	}
}

// TrackQuizPerformance records a quiz answer and updates the topic
// strength.
func (t *Tracker) TrackQuizPerformance(quizID string, correct bool, meta recorder.QuizMeta) {
	if r := t.rec(); r != nil {
		r.TrackQuizPerformance(quizID, correct, meta)
	}
}

// TrackStudySession records a completed study session.
func (t *Tracker) TrackStudySession(subject string, duration time.Duration, meta recorder.StudyMeta) {
	if r := t.rec(); r != nil {
		r.TrackStudySession(subject, duration, meta)
	}
}

// TrackStudyPeriod records the period between start and end unless it is
// too short to count. It reports whether an event was recorded.
func (t *Tracker) TrackStudyPeriod(subject string, start, end time.Time) bool {
	if r := t.rec(); r != nil {
		return r.TrackStudyPeriod(subject, start, end)
	}
	return false
}

// TrackSearch records a search and which results were clicked.
func (t *Tracker) TrackSearch(query string, results []recorder.SearchResult) {
	if r := t.rec(); r != nil {
		r.TrackSearch(query, results)
	}
}

// TrackEngagement records how content was consumed.
func (t *Tracker) TrackEngagement(contentID, kind string, meta recorder.EngagementMeta) {
	if r := t.rec(); r != nil {
		r.TrackEngagement(contentID, kind, meta)
	}
}

// Flush waits until every event tracked so far is stored.
func (t *Tracker) Flush(ctx context.Context) error {
	svc := t.services()
	if svc == nil {
		return nil
	}
	return svc.recorder.Flush(ctx)
}

// Snapshot reads the whole profile. It is empty when unavailable.
func (t *Tracker) Snapshot(ctx context.Context) profile.Snapshot {
	svc := t.services()
	if svc == nil {
		return profile.Snapshot{}
	}
	snap, err := svc.engine.Snapshot(ctx)
	if err != nil {
		t.logger.Warn("partial profile", zap.Error(err))
	}
	return snap
}

// GetLearningContext returns the learner's context and its prompt block.
func (t *Tracker) GetLearningContext(ctx context.Context) personalize.LearningContext {
	return personalize.BuildContext(t.Snapshot(ctx))
}

// EnhancePrompt prefixes prompt with the learner's profile.
func (t *Tracker) EnhancePrompt(ctx context.Context, prompt string) string {
	return personalize.EnhancePrompt(t.GetLearningContext(ctx), prompt)
}

// PersonalizedSystemPrompt returns instructions for a tutoring model.
func (t *Tracker) PersonalizedSystemPrompt(ctx context.Context) string {
	return personalize.SystemPrompt(t.GetLearningContext(ctx))
}

// EnhanceMessages adds the personalized system prompt to a conversation.
func (t *Tracker) EnhanceMessages(ctx context.Context, messages []personalize.Message) []personalize.Message {
	return personalize.EnhanceMessages(t.GetLearningContext(ctx), messages)
}

// RecommendedTopics suggests what to study next.
func (t *Tracker) RecommendedTopics(ctx context.Context) []personalize.Recommendation {
	return personalize.RecommendedTopics(t.GetLearningContext(ctx))
}

// RunAnalysis flushes pending events and runs one batch analysis now.
func (t *Tracker) RunAnalysis(ctx context.Context) (*insights.AnalysisReport, error) {
	svc := t.services()
	if svc == nil {
		return nil, t.unavailable()
	}
	if err := svc.recorder.Flush(ctx); err != nil {
		return nil, err
	}
	if svc.manager != nil {
		return svc.manager.RunNow(ctx), nil
	}
	return svc.engine.RunAnalysis(ctx), nil
}

// ClearAllData deletes every event and profile entry. Events tracked
// before the call are stored first so none survive the wipe.
func (t *Tracker) ClearAllData(ctx context.Context) error {
	svc := t.services()
	if svc == nil {
		return t.unavailable()
	}
	if err := svc.recorder.Flush(ctx); err != nil {
		return err
	}
	return svc.engine.Clear(ctx)
}

// Stats returns store statistics.
func (t *Tracker) Stats(ctx context.Context) (storage.Stats, error) {
	svc := t.services()
	if svc == nil {
		return storage.Stats{}, t.unavailable()
	}
	if err := svc.recorder.Flush(ctx); err != nil {
		return storage.Stats{}, err
	}
	return svc.store.Stats(ctx)
}

// Export dumps every event and profile entry.
func (t *Tracker) Export(ctx context.Context) (*storage.ExportData, error) {
	svc := t.services()
	if svc == nil {
		return nil, t.unavailable()
	}
	if err := svc.recorder.Flush(ctx); err != nil {
		return nil, err
	}
	return svc.store.Export(ctx)
}

// Import loads an export after storing pending events. Profile entries
// overwrite existing keys; topic strengths are clamped and weak areas are
// rebuilt from them.
func (t *Tracker) Import(ctx context.Context, data *storage.ExportData) (*storage.ImportResult, error) {
	svc := t.services()
	if svc == nil {
		return nil, t.unavailable()
	}
	if err := svc.recorder.Flush(ctx); err != nil {
		return nil, err
	}
	return svc.engine.Import(ctx, data)
}

// OnUpdate registers fn for profile changes once the engine is available.
// It reports whether fn was registered.
func (t *Tracker) OnUpdate(fn func(insights.Update)) bool {
	svc := t.services()
	if svc == nil {
		return false
	}
	svc.engine.OnUpdate(fn)
	return true
}

func (t *Tracker) unavailable() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	if t.lastErr != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, t.lastErr)
	}
	return ErrUnavailable
}
