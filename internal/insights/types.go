// Package insights derives the learner profile from recorded events.
//
// Two paths write the profile. The Engine's incremental updater adjusts a
// single topic score or study-hour bucket right after the triggering event
// is stored, so the next prompt already reflects it. The BatchAnalyzer
// periodically recomputes every aggregate from a bounded window of recent
// events and overwrites the entries wholesale. Both are last-writer-wins;
// the batch result is authoritative and corrects any incremental drift.
package insights

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Analysis names one sub-analysis of a batch run.
type Analysis string

const (
	AnalysisTopicStrengths Analysis = "topic_strengths"
	AnalysisStudyPatterns  Analysis = "study_patterns"
	AnalysisPreferences    Analysis = "preferences"
	AnalysisWeakAreas      Analysis = "weak_areas"
)

// Analyses lists the sub-analyses in dispatch order.
var Analyses = []Analysis{
	AnalysisTopicStrengths,
	AnalysisStudyPatterns,
	AnalysisPreferences,
	AnalysisWeakAreas,
}

// AnalysisReport is the outcome of one batch run.
type AnalysisReport struct {
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
	Completed []Analysis          `json:"completed"`
	Errors    map[Analysis]error  `json:"-"`
	Failures  map[Analysis]string `json:"failures,omitempty"`
}

// Degraded reports whether any sub-analysis failed.
func (r *AnalysisReport) Degraded() bool {
	return len(r.Errors) > 0
}

// Failed returns the names of failed sub-analyses, sorted.
func (r *AnalysisReport) Failed() []string {
	names := make([]string, 0, len(r.Errors))
	for a := range r.Errors {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return names
}

// Err joins every sub-analysis error, or returns nil.
func (r *AnalysisReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, name := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", name, r.Errors[Analysis(name)]))
	}
	return errors.Join(errs...)
}

// UpdateSource says which path changed the profile.
type UpdateSource string

const (
	SourceIncremental UpdateSource = "incremental"
	SourceBatch       UpdateSource = "batch"
	SourceClear       UpdateSource = "clear"
	SourceImport      UpdateSource = "import"
)

// Update describes a profile change, delivered to Engine observers.
type Update struct {
	Source    UpdateSource `json:"source"`
	Keys      []string     `json:"keys"`
	Timestamp time.Time    `json:"timestamp"`
}

// SocketMessage is used for daemon to client communication.
type SocketMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Message types for socket communication
const (
	MsgTypeProfile   = "profile"
	MsgTypeUpdate    = "update"
	MsgTypeAnalysis  = "analysis"
	MsgTypeHeartbeat = "heartbeat"
	MsgTypeSubscribe = "subscribe"
)
