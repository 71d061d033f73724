package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/storage"
)

// Backend is the raw key/value persistence the profile lives in.
// *storage.Store satisfies it.
type Backend interface {
	GetProfile(ctx context.Context, key string) (*storage.ProfileRecord, error)
	PutProfile(ctx context.Context, key string, value json.RawMessage, updated time.Time) error
}

// Store reads and writes typed profile entries.
type Store struct {
	backend Backend
	now     func() time.Time
}

// NewStore wraps a backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// get decodes the entry under key into dst. It reports false when the
// entry does not exist.
func (s *Store) get(ctx context.Context, key string, dst any) (bool, error) {
	rec, err := s.backend.GetProfile(ctx, key)
	if err != nil {
		return false, err
	}
	if rec == nil || len(rec.Value) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(rec.Value, dst); err != nil {
		return false, fmt.Errorf("profile: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("profile: encode %s: %w", key, err)
	}
	return s.backend.PutProfile(ctx, key, raw, s.now())
}

// TopicStrengths returns the stored strengths, or an empty map.
func (s *Store) TopicStrengths(ctx context.Context) (TopicStrengths, error) {
	strengths := TopicStrengths{}
	if _, err := s.get(ctx, KeyTopicStrengths, &strengths); err != nil {
		return TopicStrengths{}, err
	}
	if strengths == nil {
		strengths = TopicStrengths{}
	}
	return strengths, nil
}

// PutTopicStrengths overwrites the strengths entry. Scores are clamped.
func (s *Store) PutTopicStrengths(ctx context.Context, strengths TopicStrengths) error {
	clamped := make(TopicStrengths, len(strengths))
	for topic, score := range strengths {
		clamped[topic] = Clamp(score)
	}
	return s.put(ctx, KeyTopicStrengths, clamped)
}

// WeakAreas returns the stored weak areas, or an empty slice.
func (s *Store) WeakAreas(ctx context.Context) ([]WeakArea, error) {
	var areas []WeakArea
	if _, err := s.get(ctx, KeyWeakAreas, &areas); err != nil {
		return []WeakArea{}, err
	}
	if areas == nil {
		areas = []WeakArea{}
	}
	return areas, nil
}

// PutWeakAreas overwrites the weak-areas entry.
func (s *Store) PutWeakAreas(ctx context.Context, areas []WeakArea) error {
	if areas == nil {
		areas = []WeakArea{}
	}
	return s.put(ctx, KeyWeakAreas, areas)
}

// StudyPatterns returns the stored patterns, or nil when none exist.
func (s *Store) StudyPatterns(ctx context.Context) (*StudyPatterns, error) {
	var patterns StudyPatterns
	ok, err := s.get(ctx, KeyStudyPatterns, &patterns)
	if err != nil || !ok {
		return nil, err
	}
	return &patterns, nil
}

// PutStudyPatterns overwrites the study-patterns entry.
func (s *Store) PutStudyPatterns(ctx context.Context, patterns StudyPatterns) error {
	return s.put(ctx, KeyStudyPatterns, patterns)
}

// Preferences returns the stored preferences, or the zero value.
func (s *Store) Preferences(ctx context.Context) (Preferences, error) {
	var prefs Preferences
	if _, err := s.get(ctx, KeyPreferences, &prefs); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

// PutPreferences overwrites the preferences entry.
func (s *Store) PutPreferences(ctx context.Context, prefs Preferences) error {
	return s.put(ctx, KeyPreferences, prefs)
}

// StudyHours returns the hour-of-day histogram, or an empty map.
func (s *Store) StudyHours(ctx context.Context) (StudyHours, error) {
	hours := StudyHours{}
	if _, err := s.get(ctx, KeyStudyHours, &hours); err != nil {
		return StudyHours{}, err
	}
	if hours == nil {
		hours = StudyHours{}
	}
	return hours, nil
}

// PutStudyHours overwrites the hour histogram.
func (s *Store) PutStudyHours(ctx context.Context, hours StudyHours) error {
	return s.put(ctx, KeyStudyHours, hours)
}

// Snapshot reads every entry. A failing entry is left at its default and
// the first error is returned alongside the partial snapshot.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{TakenAt: s.now()}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var err error
	snap.TopicStrengths, err = s.TopicStrengths(ctx)
	keep(err)
	snap.WeakAreas, err = s.WeakAreas(ctx)
	keep(err)
	snap.StudyPatterns, err = s.StudyPatterns(ctx)
	keep(err)
	snap.Preferences, err = s.Preferences(ctx)
	keep(err)
	snap.StudyHours, err = s.StudyHours(ctx)
	keep(err)

	return snap, firstErr
}
