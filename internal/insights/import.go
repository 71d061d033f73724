package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"github.com/Atharva-Kanherkar/sage/internal/storage"
	"go.uber.org/zap"
)

// Import loads a dump into the store. Imported topic strengths are clamped
// to the score range. Weak areas in the dump are ignored and rebuilt from
// the strengths stored after the import.
func (e *Engine) Import(ctx context.Context, data *storage.ExportData) (*storage.ImportResult, error) {
	if data == nil {
		return &storage.ImportResult{}, nil
	}
	clean, derived, err := sanitizeDump(data)
	if err != nil {
		return nil, err
	}

	e.clearMu.Lock()
	res, err := e.store.Import(ctx, clean)
	if err == nil && derived {
		err = e.rebuildWeakAreas(ctx)
	}
	e.clearMu.Unlock()

	if err != nil {
		e.logger.Error("import failed", zap.Error(err))
		return res, err
	}

	e.logger.Info("import complete",
		zap.Int("events", res.EventsImported),
		zap.Int("skipped", res.EventsSkipped),
		zap.Int("profile", res.ProfileImported))

	keys := make([]string, 0, len(clean.Profile)+1)
	for _, p := range clean.Profile {
		keys = append(keys, p.Key)
	}
	if derived {
		keys = append(keys, profile.KeyWeakAreas)
	}
	if len(keys) > 0 {
		e.notify(SourceImport, keys...)
	}
	return res, nil
}

// rebuildWeakAreas must be called with clearMu held.
func (e *Engine) rebuildWeakAreas(ctx context.Context) error {
	strengths, err := e.profile.TopicStrengths(ctx)
	if err != nil {
		return err
	}
	return e.profile.PutWeakAreas(ctx, DetectWeakAreas(strengths))
}

// sanitizeDump returns a copy of data whose profile entries are safe to
// store as-is. derived reports whether weak areas need rebuilding.
func sanitizeDump(data *storage.ExportData) (clean *storage.ExportData, derived bool, err error) {
	out := *data
	out.Profile = make([]storage.ProfileRecord, 0, len(data.Profile))

	for _, p := range data.Profile {
		switch p.Key {
		case profile.KeyWeakAreas:
			derived = true
			continue
		case profile.KeyTopicStrengths:
			value, err := clampStrengths(p.Value)
			if err != nil {
				return nil, false, err
			}
			p.Value = value
			derived = true
		}
		out.Profile = append(out.Profile, p)
	}
	return &out, derived, nil
}

func clampStrengths(raw json.RawMessage) (json.RawMessage, error) {
	var scores map[string]float64
	if err := json.Unmarshal(raw, &scores); err != nil {
		return nil, fmt.Errorf("insights: import %s: %w", profile.KeyTopicStrengths, err)
	}

	strengths := make(profile.TopicStrengths, len(scores))
	for topic, score := range scores {
		if topic == "" {
			continue
		}
		strengths[topic] = profile.Clamp(int(math.Round(score)))
	}

	value, err := json.Marshal(strengths)
	if err != nil {
		return nil, fmt.Errorf("insights: import %s: %w", profile.KeyTopicStrengths, err)
	}
	return value, nil
}
