package profile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProfile(t *testing.T) (*Store, *storage.Store) {
	t.Helper()
	db, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), db
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-20, 0},
		{0, 0},
		{42, 42},
		{100, 100},
		{130, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp(tt.in), "Clamp(%d)", tt.in)
	}
}

func TestStore_DefaultsWhenMissing(t *testing.T) {
	p, _ := newTestProfile(t)
	ctx := context.Background()

	strengths, err := p.TopicStrengths(ctx)
	require.NoError(t, err)
	assert.NotNil(t, strengths)
	assert.Empty(t, strengths)

	areas, err := p.WeakAreas(ctx)
	require.NoError(t, err)
	assert.NotNil(t, areas)
	assert.Empty(t, areas)

	patterns, err := p.StudyPatterns(ctx)
	require.NoError(t, err)
	assert.Nil(t, patterns)

	prefs, err := p.Preferences(ctx)
	require.NoError(t, err)
	assert.True(t, prefs.IsZero())

	hours, err := p.StudyHours(ctx)
	require.NoError(t, err)
	assert.Empty(t, hours)

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestStore_RoundTrip(t *testing.T) {
	p, _ := newTestProfile(t)
	ctx := context.Background()

	require.NoError(t, p.PutTopicStrengths(ctx, TopicStrengths{"algebra": 85, "chemistry": 40}))
	require.NoError(t, p.PutWeakAreas(ctx, []WeakArea{{Topic: "chemistry", Strength: 40}}))
	require.NoError(t, p.PutStudyPatterns(ctx, StudyPatterns{PeakHour: 20, PeakDay: 2, AverageSessionMinutes: 25, TotalSessions: 4}))
	require.NoError(t, p.PutPreferences(ctx, Preferences{PreferredContentLength: LengthShort, EngagementStyle: StyleThorough, LastUpdated: 1}))
	require.NoError(t, p.PutStudyHours(ctx, StudyHours{9: 2, 20: 5}))

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Empty())
	assert.Equal(t, TopicStrengths{"algebra": 85, "chemistry": 40}, snap.TopicStrengths)
	assert.Equal(t, []WeakArea{{Topic: "chemistry", Strength: 40}}, snap.WeakAreas)
	require.NotNil(t, snap.StudyPatterns)
	assert.Equal(t, 20, snap.StudyPatterns.PeakHour)
	assert.Equal(t, LengthShort, snap.Preferences.PreferredContentLength)
	assert.Equal(t, StudyHours{9: 2, 20: 5}, snap.StudyHours)
}

func TestStore_PutTopicStrengthsClamps(t *testing.T) {
	p, _ := newTestProfile(t)
	ctx := context.Background()

	require.NoError(t, p.PutTopicStrengths(ctx, TopicStrengths{"a": 140, "b": -3}))

	strengths, err := p.TopicStrengths(ctx)
	require.NoError(t, err)
	assert.Equal(t, TopicStrengths{"a": 100, "b": 0}, strengths)
}

func TestStore_WireFormat(t *testing.T) {
	p, db := newTestProfile(t)
	ctx := context.Background()

	require.NoError(t, p.PutWeakAreas(ctx, []WeakArea{{Topic: "E", Strength: 10}}))

	rec, err := db.GetProfile(ctx, KeyWeakAreas)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.JSONEq(t, `[{"topic":"E","strength":10}]`, string(rec.Value))
}

func TestStore_ReadsAfterWipeAreDefaults(t *testing.T) {
	p, db := newTestProfile(t)
	ctx := context.Background()

	require.NoError(t, p.PutTopicStrengths(ctx, TopicStrengths{"algebra": 70}))
	require.NoError(t, db.ClearAll(ctx))

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

type failingBackend struct {
	corrupt string
}

func (f failingBackend) GetProfile(_ context.Context, key string) (*storage.ProfileRecord, error) {
	if key == f.corrupt {
		return &storage.ProfileRecord{Key: key, Value: json.RawMessage(`{not json`)}, nil
	}
	return nil, errors.New("backend down")
}

func (f failingBackend) PutProfile(context.Context, string, json.RawMessage, time.Time) error {
	return errors.New("backend down")
}

func TestStore_SnapshotDegradesOnErrors(t *testing.T) {
	p := NewStore(failingBackend{corrupt: KeyPreferences})

	snap, err := p.Snapshot(context.Background())
	assert.Error(t, err)
	assert.NotNil(t, snap.TopicStrengths)
	assert.NotNil(t, snap.WeakAreas)
	assert.True(t, snap.Empty())
}

func TestStore_CorruptEntryIsAnError(t *testing.T) {
	p := NewStore(failingBackend{corrupt: KeyTopicStrengths})

	strengths, err := p.TopicStrengths(context.Background())
	assert.Error(t, err)
	assert.Empty(t, strengths)
}
