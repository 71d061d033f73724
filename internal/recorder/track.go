package recorder

import (
	"context"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/event"
)

// MinStudySession is the shortest study period TrackStudyPeriod records.
const MinStudySession = 5 * time.Second

// DefaultStudySubject is used by TrackStudyPeriod when no subject is given.
const DefaultStudySubject = "general"

// NoteMeta describes a note interaction.
type NoteMeta struct {
	Subject   string
	Duration  time.Duration
	WordCount int
	// Extra is merged into the payload and may override the fields above.
	Extra map[string]any
}

// QuizMeta describes a quiz answer.
type QuizMeta struct {
	Subject    string
	Topic      string
	Difficulty string
	TimeSpent  time.Duration
	Attempts   int
}

// StudyMeta describes a study session.
type StudyMeta struct {
	Start      time.Time
	End        time.Time
	FocusScore float64
}

// SearchResult is one result shown for a search.
type SearchResult struct {
	ID      string
	Clicked bool
}

// EngagementMeta describes how content was consumed.
type EngagementMeta struct {
	ScrollDepth  float64 // percent, 0-100
	TimeOnPage   time.Duration
	Interactions int
}

// TrackNoteActivity records a note view or edit. The subject falls back to
// the current topic.
func (r *Recorder) TrackNoteActivity(noteID, action string, meta NoteMeta) {
	subject := meta.Subject
	if subject == "" {
		subject = r.CurrentTopic()
	}

	data := event.Data{"noteId": noteID}
	setString(data, "subject", subject)
	if meta.Duration > 0 {
		data["duration"] = int64(meta.Duration.Seconds())
	}
	if meta.WordCount > 0 {
		data["wordCount"] = meta.WordCount
	}
	for k, v := range meta.Extra {
		data[k] = v
	}

	r.record(event.CategoryNote, action, data, nil)
}

// TrackQuizPerformance records a quiz answer and, once stored, nudges the
// topic's strength.
func (r *Recorder) TrackQuizPerformance(quizID string, correct bool, meta QuizMeta) {
	action := event.ActionIncorrect
	if correct {
		action = event.ActionCorrect
	}

	data := event.Data{"quizId": quizID}
	setString(data, "subject", meta.Subject)
	setString(data, "topic", meta.Topic)
	setString(data, "difficulty", meta.Difficulty)
	if meta.TimeSpent > 0 {
		data["timeSpent"] = meta.TimeSpent.Milliseconds()
	}
	if meta.Attempts > 0 {
		data["attempts"] = meta.Attempts
	}

	topic := meta.Topic
	r.record(event.CategoryQuiz, action, data, func(ctx context.Context) error {
		return r.updater.UpdateTopicStrength(ctx, topic, correct)
	})
}

// TrackStudySession records a study session of the given length and, once
// stored, counts its start hour.
func (r *Recorder) TrackStudySession(subject string, duration time.Duration, meta StudyMeta) {
	data := event.Data{
		"duration": int64(duration.Seconds()),
	}
	setString(data, "subject", subject)
	if !meta.Start.IsZero() {
		data["startTime"] = meta.Start.UnixMilli()
	}
	if !meta.End.IsZero() {
		data["endTime"] = meta.End.UnixMilli()
	}
	if meta.FocusScore != 0 {
		data["focusScore"] = meta.FocusScore
	}

	start := meta.Start
	r.record(event.CategoryStudy, event.ActionSession, data, func(ctx context.Context) error {
		return r.updater.UpdateStudyTimePattern(ctx, start)
	})
}

// TrackStudyPeriod records the period between start and end as a study
// session. Periods of MinStudySession or less are ignored. It reports
// whether the session was recorded.
func (r *Recorder) TrackStudyPeriod(subject string, start, end time.Time) bool {
	duration := end.Sub(start)
	if start.IsZero() || duration <= MinStudySession {
		return false
	}
	if subject == "" {
		subject = DefaultStudySubject
	}
	r.TrackStudySession(subject, duration, StudyMeta{Start: start, End: end})
	return true
}

// TrackSearch records a search query and which results were clicked.
func (r *Recorder) TrackSearch(query string, results []SearchResult) {
	clicked := make([]string, 0)
	for _, res := range results {
		if res.Clicked {
			clicked = append(clicked, res.ID)
		}
	}

	r.record(event.CategorySearch, event.ActionQuery, event.Data{
		"query":       query,
		"resultCount": len(results),
		"clicked":     clicked,
	}, nil)
}

// TrackEngagement records how a piece of content was consumed. kind is the
// action, typically event.ActionView.
func (r *Recorder) TrackEngagement(contentID, kind string, meta EngagementMeta) {
	if kind == "" {
		kind = event.ActionView
	}

	data := event.Data{"contentId": contentID}
	if meta.ScrollDepth > 0 {
		data["scrollDepth"] = meta.ScrollDepth
	}
	if meta.TimeOnPage > 0 {
		data["timeOnPage"] = meta.TimeOnPage.Milliseconds()
	}
	if meta.Interactions > 0 {
		data["interactions"] = meta.Interactions
	}

	r.record(event.CategoryEngagement, kind, data, nil)
}

func setString(data event.Data, key, value string) {
	if value != "" {
		data[key] = value
	}
}
