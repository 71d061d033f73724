package insights

import (
	"context"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/metrics"
	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"github.com/Atharva-Kanherkar/sage/internal/storage"
	"go.uber.org/zap"
)

// Store is the persistence the engine works against. *storage.Store
// satisfies it.
type Store interface {
	EventSource
	profile.Backend
	ClearAll(ctx context.Context) error
	Import(ctx context.Context, data *storage.ExportData) (*storage.ImportResult, error)
}

// Engine owns the learner profile: it applies incremental updates, runs
// batch analyses and wipes everything on request.
type Engine struct {
	store   Store
	profile *profile.Store
	batch   *BatchAnalyzer
	logger  *zap.Logger
	metrics *metrics.Metrics
	loc     *time.Location

	// Analyses and incremental updates hold the read side; Clear holds the
	// write side so no update straddles a wipe.
	clearMu sync.RWMutex
	// updateMu serializes incremental read-modify-write cycles.
	updateMu sync.Mutex

	obsMu     sync.RWMutex
	observers []func(Update)
}

// EngineConfig configures the engine.
type EngineConfig struct {
	Store   Store
	Batch   BatchConfig
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewEngine creates a new engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("insights")

	batchCfg := cfg.Batch.withDefaults()
	prof := profile.NewStore(cfg.Store)

	return &Engine{
		store:   cfg.Store,
		profile: prof,
		batch:   NewBatchAnalyzer(cfg.Store, prof, batchCfg, logger),
		logger:  logger,
		metrics: cfg.Metrics,
		loc:     batchCfg.Location,
	}
}

// Profile returns the typed profile the engine writes to.
func (e *Engine) Profile() *profile.Store {
	return e.profile
}

// OnUpdate registers fn to be called after every profile change. Observers
// run synchronously on the updating goroutine and must not block.
func (e *Engine) OnUpdate(fn func(Update)) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, fn)
}

func (e *Engine) notify(source UpdateSource, keys ...string) {
	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()

	if len(observers) == 0 {
		return
	}
	u := Update{Source: source, Keys: keys, Timestamp: time.Now()}
	for _, fn := range observers {
		fn(u)
	}
}

// RunAnalysis runs one batch analysis.
func (e *Engine) RunAnalysis(ctx context.Context) *AnalysisReport {
	e.clearMu.RLock()
	report := e.batch.Run(ctx)
	e.clearMu.RUnlock()

	failed := report.Failed()
	e.metrics.RecordAnalysis(report.Duration, failed)

	if report.Degraded() {
		e.logger.Warn("analysis completed with errors",
			zap.Duration("duration", report.Duration),
			zap.Strings("failed", failed))
	} else {
		e.logger.Info("analysis completed", zap.Duration("duration", report.Duration))
	}

	if len(report.Completed) > 0 {
		e.notify(SourceBatch, completedKeys(report.Completed)...)
	}
	return report
}

// Snapshot reads the whole profile.
func (e *Engine) Snapshot(ctx context.Context) (profile.Snapshot, error) {
	e.clearMu.RLock()
	defer e.clearMu.RUnlock()
	return e.profile.Snapshot(ctx)
}

// Clear wipes events and profile. It waits for in-flight analyses and
// updates to finish and blocks new ones until the wipe commits.
func (e *Engine) Clear(ctx context.Context) error {
	e.clearMu.Lock()
	err := e.store.ClearAll(ctx)
	e.clearMu.Unlock()

	if err != nil {
		e.logger.Error("clear failed", zap.Error(err))
		return err
	}
	e.logger.Info("all learning data cleared")
	e.notify(SourceClear, profile.Keys...)
	return nil
}

func completedKeys(done []Analysis) []string {
	keys := make([]string, 0, len(done))
	for _, a := range done {
		switch a {
		case AnalysisTopicStrengths:
			keys = append(keys, profile.KeyTopicStrengths)
		case AnalysisStudyPatterns:
			keys = append(keys, profile.KeyStudyPatterns)
		case AnalysisPreferences:
			keys = append(keys, profile.KeyPreferences)
		case AnalysisWeakAreas:
			keys = append(keys, profile.KeyWeakAreas)
		}
	}
	return keys
}
