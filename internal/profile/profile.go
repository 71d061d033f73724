// Package profile gives typed access to the learner profile.
//
// The profile is a handful of named aggregates (topic strengths, weak areas,
// study patterns, content preferences, the study-hour histogram) persisted
// as JSON values in the storage profile table. Every getter falls back to a
// default when the entry is missing, so a freshly wiped profile reads as an
// empty one rather than an error.
package profile

import (
	"time"
)

// Profile entry keys.
const (
	KeyTopicStrengths = "topicStrengths"
	KeyWeakAreas      = "weakAreas"
	KeyStudyPatterns  = "studyPatterns"
	KeyPreferences    = "preferences"
	KeyStudyHours     = "studyHours"
)

// Keys lists every profile key.
var Keys = []string{
	KeyTopicStrengths,
	KeyWeakAreas,
	KeyStudyPatterns,
	KeyPreferences,
	KeyStudyHours,
}

// Score bounds and thresholds.
const (
	MinScore     = 0
	MaxScore     = 100
	DefaultScore = 50

	// WeakThreshold is the exclusive upper bound for a weak topic.
	WeakThreshold = 60
	// StrongThreshold is the inclusive lower bound for a strong topic.
	StrongThreshold = 80
	// MaxWeakAreas bounds the weak-area list.
	MaxWeakAreas = 5
)

// Content-length preferences.
const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"
)

// Engagement styles.
const (
	StyleSkimmer  = "skimmer"
	StyleModerate = "moderate"
	StyleThorough = "thorough"
)

// DefaultSessionMinutes is reported when no study sessions exist.
const DefaultSessionMinutes = 30

// TopicStrengths maps a topic to a mastery score in [0,100].
type TopicStrengths map[string]int

// WeakArea is a topic scoring below WeakThreshold.
type WeakArea struct {
	Topic    string `json:"topic"`
	Strength int    `json:"strength"`
}

// StudyPatterns summarizes when and how long the learner studies.
type StudyPatterns struct {
	PeakHour              int `json:"peakHour"`
	PeakDay               int `json:"peakDay"`
	AverageSessionMinutes int `json:"averageSessionMinutes"`
	TotalSessions         int `json:"totalSessions"`
}

// Preferences captures how the learner consumes content.
type Preferences struct {
	PreferredContentLength string `json:"preferredContentLength"`
	EngagementStyle        string `json:"engagementStyle"`
	LastUpdated            int64  `json:"lastUpdated"` // ms since epoch
}

// IsZero reports whether no preference has been derived yet.
func (p Preferences) IsZero() bool {
	return p.PreferredContentLength == "" && p.EngagementStyle == ""
}

// StudyHours counts study sessions per hour of day (0-23).
type StudyHours map[int]int

// Snapshot is a point-in-time copy of every profile entry.
type Snapshot struct {
	TopicStrengths TopicStrengths `json:"topicStrengths"`
	WeakAreas      []WeakArea     `json:"weakAreas"`
	StudyPatterns  *StudyPatterns `json:"studyPatterns,omitempty"`
	Preferences    Preferences    `json:"preferences"`
	StudyHours     StudyHours     `json:"studyHours"`
	TakenAt        time.Time      `json:"takenAt"`
}

// Empty reports whether the snapshot carries no learned information.
func (s Snapshot) Empty() bool {
	return len(s.TopicStrengths) == 0 &&
		len(s.WeakAreas) == 0 &&
		s.StudyPatterns == nil &&
		s.Preferences.IsZero() &&
		len(s.StudyHours) == 0
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
