package insights

import (
	"context"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"go.uber.org/zap"
)

// Score deltas applied per quiz answer. Wrong answers move the score
// further than right ones.
const (
	CorrectDelta   = 5
	IncorrectDelta = -8
)

// NextStrength applies one answer to a score and clamps the result.
func NextStrength(current int, correct bool) int {
	delta := IncorrectDelta
	if correct {
		delta = CorrectDelta
	}
	return profile.Clamp(current + delta)
}

// UpdateTopicStrength nudges one topic's score after a quiz answer. A topic
// seen for the first time starts at profile.DefaultScore. An empty topic is
// ignored.
func (e *Engine) UpdateTopicStrength(ctx context.Context, topic string, correct bool) error {
	if topic == "" {
		return nil
	}

	if err := e.locked(func() error { return e.applyAnswer(ctx, topic, correct) }); err != nil {
		return err
	}
	e.notify(SourceIncremental, profile.KeyTopicStrengths)
	return nil
}

func (e *Engine) applyAnswer(ctx context.Context, topic string, correct bool) error {
	strengths, err := e.profile.TopicStrengths(ctx)
	if err != nil {
		e.logger.Warn("read topic strengths", zap.Error(err))
		return err
	}

	current, ok := strengths[topic]
	if !ok {
		current = profile.DefaultScore
	}
	strengths[topic] = NextStrength(current, correct)

	if err := e.profile.PutTopicStrengths(ctx, strengths); err != nil {
		e.logger.Warn("write topic strengths", zap.String("topic", topic), zap.Error(err))
		return err
	}

	e.logger.Debug("topic strength updated",
		zap.String("topic", topic), zap.Bool("correct", correct),
		zap.Int("from", current), zap.Int("to", strengths[topic]))
	return nil
}

// UpdateStudyTimePattern counts a study session in its hour-of-day bucket.
// A zero time is ignored.
func (e *Engine) UpdateStudyTimePattern(ctx context.Context, start time.Time) error {
	if start.IsZero() {
		return nil
	}
	hour := start.In(e.loc).Hour()

	err := e.locked(func() error {
		hours, err := e.profile.StudyHours(ctx)
		if err != nil {
			e.logger.Warn("read study hours", zap.Error(err))
			return err
		}
		hours[hour]++

		if err := e.profile.PutStudyHours(ctx, hours); err != nil {
			e.logger.Warn("write study hours", zap.Int("hour", hour), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.notify(SourceIncremental, profile.KeyStudyHours)
	return nil
}

// locked runs fn under the shared clear lock and the update lock.
func (e *Engine) locked(fn func() error) error {
	e.clearMu.RLock()
	defer e.clearMu.RUnlock()
	e.updateMu.Lock()
	defer e.updateMu.Unlock()
	return fn()
}
