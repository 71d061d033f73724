package insights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/event"
	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Default analysis windows, in events.
const (
	DefaultStrengthWindow   = 100
	DefaultStudyWindow      = 50
	DefaultPreferenceWindow = 100
)

// Preference defaults used when no observation carries a usable value.
const (
	DefaultWordCount   = 500
	DefaultScrollDepth = 50
)

// DefaultTopic groups quiz events that carry no topic.
const DefaultTopic = "general"

// EventSource is the read side of the event log.
type EventSource interface {
	Scan(ctx context.Context, category event.Category, limit int) ([]event.Event, error)
}

// BatchConfig tunes the batch analyzer.
type BatchConfig struct {
	StrengthWindow   int
	StudyWindow      int
	PreferenceWindow int
	// KnownTopics are reported with the default score when no quiz event
	// mentions them.
	KnownTopics []string
	// Location is used for hour-of-day and weekday buckets.
	Location *time.Location
}

// DefaultBatchConfig returns the standard windows in local time.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		StrengthWindow:   DefaultStrengthWindow,
		StudyWindow:      DefaultStudyWindow,
		PreferenceWindow: DefaultPreferenceWindow,
		Location:         time.Local,
	}
}

func (c BatchConfig) withDefaults() BatchConfig {
	d := DefaultBatchConfig()
	if c.StrengthWindow <= 0 {
		c.StrengthWindow = d.StrengthWindow
	}
	if c.StudyWindow <= 0 {
		c.StudyWindow = d.StudyWindow
	}
	if c.PreferenceWindow <= 0 {
		c.PreferenceWindow = d.PreferenceWindow
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}

// BatchAnalyzer recomputes every profile aggregate from recent events.
type BatchAnalyzer struct {
	events  EventSource
	profile *profile.Store
	cfg     BatchConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewBatchAnalyzer creates a new batch analyzer.
func NewBatchAnalyzer(events EventSource, prof *profile.Store, cfg BatchConfig, logger *zap.Logger) *BatchAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchAnalyzer{
		events:  events,
		profile: prof,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("batch"),
		now:     time.Now,
	}
}

// Run executes the four sub-analyses concurrently. A failing sub-analysis
// is logged and recorded in the report; the others still complete. Weak
// areas are derived from the strengths written by this same run.
func (b *BatchAnalyzer) Run(ctx context.Context) *AnalysisReport {
	start := b.now()
	report := &AnalysisReport{
		StartedAt: start,
		Errors:    make(map[Analysis]error),
		Failures:  make(map[Analysis]string),
	}

	var mu sync.Mutex
	finish := func(a Analysis, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Errors[a] = err
			report.Failures[a] = err.Error()
			b.logger.Warn("sub-analysis failed", zap.String("analysis", string(a)), zap.Error(err))
			return
		}
		report.Completed = append(report.Completed, a)
	}

	strengthsDone := make(chan struct{})

	// Sub-analyses report through finish and always return nil.
	var g errgroup.Group
	g.Go(func() error {
		defer close(strengthsDone)
		finish(AnalysisTopicStrengths, guard(func() error { return b.analyzeTopicStrengths(ctx) }))
		return nil
	})
	g.Go(func() error {
		finish(AnalysisStudyPatterns, guard(func() error { return b.analyzeStudyPatterns(ctx) }))
		return nil
	})
	g.Go(func() error {
		finish(AnalysisPreferences, guard(func() error { return b.analyzePreferences(ctx) }))
		return nil
	})
	g.Go(func() error {
		select {
		case <-strengthsDone:
		case <-ctx.Done():
			finish(AnalysisWeakAreas, ctx.Err())
			return nil
		}
		finish(AnalysisWeakAreas, guard(func() error { return b.analyzeWeakAreas(ctx) }))
		return nil
	})
	_ = g.Wait()

	sort.Slice(report.Completed, func(i, j int) bool {
		return analysisOrder(report.Completed[i]) < analysisOrder(report.Completed[j])
	})
	if len(report.Failures) == 0 {
		report.Failures = nil
	}
	report.Duration = b.now().Sub(start)
	return report
}

// guard converts a panic inside a sub-analysis into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func analysisOrder(a Analysis) int {
	for i, known := range Analyses {
		if known == a {
			return i
		}
	}
	return len(Analyses)
}

func (b *BatchAnalyzer) analyzeTopicStrengths(ctx context.Context) error {
	quizzes, err := b.events.Scan(ctx, event.CategoryQuiz, b.cfg.StrengthWindow)
	if err != nil {
		return err
	}
	strengths := ComputeTopicStrengths(quizzes, b.cfg.KnownTopics)
	if err := b.profile.PutTopicStrengths(ctx, strengths); err != nil {
		return err
	}
	b.logger.Debug("topic strengths recomputed",
		zap.Int("events", len(quizzes)), zap.Int("topics", len(strengths)))
	return nil
}

func (b *BatchAnalyzer) analyzeStudyPatterns(ctx context.Context) error {
	sessions, err := b.events.Scan(ctx, event.CategoryStudy, b.cfg.StudyWindow)
	if err != nil {
		return err
	}
	patterns := ComputeStudyPatterns(sessions, b.cfg.Location)
	if err := b.profile.PutStudyPatterns(ctx, patterns); err != nil {
		return err
	}
	b.logger.Debug("study patterns recomputed",
		zap.Int("sessions", patterns.TotalSessions), zap.Int("peak_hour", patterns.PeakHour))
	return nil
}

func (b *BatchAnalyzer) analyzePreferences(ctx context.Context) error {
	notes, err := b.events.Scan(ctx, event.CategoryNote, b.cfg.PreferenceWindow)
	if err != nil {
		return err
	}
	engagement, err := b.events.Scan(ctx, event.CategoryEngagement, b.cfg.PreferenceWindow)
	if err != nil {
		return err
	}
	prefs := ComputePreferences(notes, engagement)
	prefs.LastUpdated = b.now().UnixMilli()
	if err := b.profile.PutPreferences(ctx, prefs); err != nil {
		return err
	}
	b.logger.Debug("preferences recomputed",
		zap.String("length", prefs.PreferredContentLength), zap.String("style", prefs.EngagementStyle))
	return nil
}

func (b *BatchAnalyzer) analyzeWeakAreas(ctx context.Context) error {
	strengths, err := b.profile.TopicStrengths(ctx)
	if err != nil {
		return err
	}
	return b.profile.PutWeakAreas(ctx, DetectWeakAreas(strengths))
}

// ComputeTopicStrengths scores each topic as the rounded percentage of
// correct answers. Events without a topic count toward DefaultTopic. Known
// topics with no events get profile.DefaultScore.
func ComputeTopicStrengths(quizzes []event.Event, known []string) profile.TopicStrengths {
	type tally struct{ correct, total int }
	stats := make(map[string]*tally)

	for _, e := range quizzes {
		topic := e.Data.String("topic")
		if topic == "" {
			topic = DefaultTopic
		}
		t, ok := stats[topic]
		if !ok {
			t = &tally{}
			stats[topic] = t
		}
		t.total++
		if e.Action == event.ActionCorrect {
			t.correct++
		}
	}

	strengths := make(profile.TopicStrengths, len(stats)+len(known))
	for topic, t := range stats {
		strengths[topic] = profile.DefaultScore
		if t.total > 0 {
			strengths[topic] = profile.Clamp(roundInt(float64(t.correct) / float64(t.total) * 100))
		}
	}
	for _, topic := range known {
		if _, ok := strengths[topic]; !ok && topic != "" {
			strengths[topic] = profile.DefaultScore
		}
	}
	return strengths
}

// ComputeStudyPatterns builds hour and weekday histograms from session start
// times and reports their peaks. The first bucket wins ties.
func ComputeStudyPatterns(sessions []event.Event, loc *time.Location) profile.StudyPatterns {
	if loc == nil {
		loc = time.Local
	}

	var hours [24]int
	var days [7]int
	var totalSeconds float64

	for _, e := range sessions {
		if start, ok := e.Data.Int("startTime"); ok && start > 0 {
			t := time.UnixMilli(start).In(loc)
			hours[t.Hour()]++
			days[int(t.Weekday())]++
		}
		if d, ok := e.Data.Float("duration"); ok {
			totalSeconds += d
		}
	}

	patterns := profile.StudyPatterns{
		PeakHour:              argmax(hours[:]),
		PeakDay:               argmax(days[:]),
		AverageSessionMinutes: profile.DefaultSessionMinutes,
		TotalSessions:         len(sessions),
	}
	if len(sessions) > 0 {
		patterns.AverageSessionMinutes = roundInt(totalSeconds / float64(len(sessions)) / 60)
	}
	return patterns
}

// ComputePreferences derives the preferred content length from note word
// counts and the engagement style from scroll depth. Zero or missing
// values are ignored.
func ComputePreferences(notes, engagement []event.Event) profile.Preferences {
	avgWords := float64(DefaultWordCount)
	if mean, ok := nonZeroMean(notes, "wordCount"); ok {
		avgWords = math.Round(mean)
	}

	avgScroll := float64(DefaultScrollDepth)
	if mean, ok := nonZeroMean(engagement, "scrollDepth"); ok {
		avgScroll = mean
	}

	return profile.Preferences{
		PreferredContentLength: ContentLength(avgWords),
		EngagementStyle:        EngagementStyle(avgScroll),
	}
}

// ContentLength maps an average word count to a length preference.
func ContentLength(avgWords float64) string {
	switch {
	case avgWords < 300:
		return profile.LengthShort
	case avgWords > 800:
		return profile.LengthLong
	default:
		return profile.LengthMedium
	}
}

// EngagementStyle maps an average scroll depth (percent) to a style.
func EngagementStyle(avgScroll float64) string {
	switch {
	case avgScroll > 80:
		return profile.StyleThorough
	case avgScroll > 50:
		return profile.StyleModerate
	default:
		return profile.StyleSkimmer
	}
}

// DetectWeakAreas returns up to profile.MaxWeakAreas topics scoring below
// profile.WeakThreshold, weakest first. Equal scores are ordered by topic.
func DetectWeakAreas(strengths profile.TopicStrengths) []profile.WeakArea {
	areas := make([]profile.WeakArea, 0)
	for topic, score := range strengths {
		if score < profile.WeakThreshold {
			areas = append(areas, profile.WeakArea{Topic: topic, Strength: score})
		}
	}
	sort.Slice(areas, func(i, j int) bool {
		if areas[i].Strength != areas[j].Strength {
			return areas[i].Strength < areas[j].Strength
		}
		return areas[i].Topic < areas[j].Topic
	})
	if len(areas) > profile.MaxWeakAreas {
		areas = areas[:profile.MaxWeakAreas]
	}
	return areas
}

func nonZeroMean(events []event.Event, key string) (float64, bool) {
	var sum float64
	var n int
	for _, e := range events {
		v, ok := e.Data.Float(key)
		if !ok || v == 0 || math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func argmax(buckets []int) int {
	best := 0
	for i, v := range buckets {
		if v > buckets[best] {
			best = i
		}
	}
	return best
}

// roundInt rounds half up.
func roundInt(f float64) int {
	return int(math.Floor(f + 0.5))
}
