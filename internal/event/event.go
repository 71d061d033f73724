// Package event defines the observation record shared by the recorder,
// the event store and the analyzer.
//
// Every tracked interaction (a note edit, a quiz answer, a study session,
// a search, a scroll through some content) becomes one Event. Events are
// append-only: once the store assigns an ID they are never modified, and
// every profile aggregate can be rebuilt from them.
package event

import (
	"fmt"
	"time"
)

// Category is the coarse kind of an observation.
type Category string

const (
	CategoryNote       Category = "note"
	CategoryQuiz       Category = "quiz"
	CategoryStudy      Category = "study"
	CategorySearch     Category = "search"
	CategoryEngagement Category = "engagement"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategoryNote,
	CategoryQuiz,
	CategoryStudy,
	CategorySearch,
	CategoryEngagement,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown event category %q", s)
	}
	return c, nil
}

// Common actions.
const (
	ActionCorrect   = "correct"
	ActionIncorrect = "incorrect"
	ActionSession   = "session"
	ActionQuery     = "query"
	ActionView      = "view"
)

// Data is the category-specific payload of an event.
type Data map[string]any

// Event is one recorded interaction.
type Event struct {
	ID        int64    `json:"id"`
	Category  Category `json:"category"`
	Action    string   `json:"action"`
	Data      Data     `json:"data"`
	Timestamp int64    `json:"timestamp"` // ms since epoch
	SessionID string   `json:"sessionId"`
	Subject   string   `json:"subject,omitempty"`
}

// New creates an Event stamped with the current time.
func New(category Category, action string, data Data) *Event {
	if data == nil {
		data = Data{}
	}
	return &Event{
		Category:  category,
		Action:    action,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Time returns the capture time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Set stores a payload value and returns the event for chaining.
func (e *Event) Set(key string, value any) *Event {
	if e.Data == nil {
		e.Data = Data{}
	}
	e.Data[key] = value
	return e
}

// String returns the value under key if it is a non-empty string.
func (d Data) String(key string) string {
	if d == nil {
		return ""
	}
	s, _ := d[key].(string)
	return s
}

// Float returns the numeric value under key.
//
// Payloads round-trip through JSON, so numbers come back as float64 even
// when they were written as ints.
func (d Data) Float(key string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	switch v := d[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int returns the numeric value under key truncated to int64.
func (d Data) Int(key string) (int64, bool) {
	f, ok := d.Float(key)
	return int64(f), ok
}
