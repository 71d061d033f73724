// Package personalize renders the learner profile for generation requests.
//
// Every function here is a pure function of a profile.Snapshot. None of
// them touch storage or return errors; an empty profile renders as an
// empty context and leaves prompts unchanged.
package personalize

import (
	"sort"
	"strings"

	"github.com/Atharva-Kanherkar/sage/internal/profile"
)

// Header opens every non-empty prompt context block.
const Header = "[User Profile]"

// Separator sits between the context block and the original prompt.
const Separator = "\n\n---\n\n"

// LearningContext is the profile as handed to prompt builders.
type LearningContext struct {
	Strengths     profile.TopicStrengths `json:"strengths"`
	WeakAreas     []profile.WeakArea     `json:"weakAreas"`
	Preferences   profile.Preferences    `json:"preferences"`
	StudyPatterns *profile.StudyPatterns `json:"studyPatterns,omitempty"`
	PromptContext string                 `json:"promptContext"`
}

// Empty reports whether the context carries nothing to personalize with.
func (c LearningContext) Empty() bool {
	return len(c.Strengths) == 0 && len(c.WeakAreas) == 0 &&
		c.Preferences.IsZero() && c.StudyPatterns == nil
}

// BuildContext assembles a LearningContext from a snapshot, filling in empty
// defaults for anything missing.
func BuildContext(snap profile.Snapshot) LearningContext {
	ctx := LearningContext{
		Strengths:     snap.TopicStrengths,
		WeakAreas:     snap.WeakAreas,
		Preferences:   snap.Preferences,
		StudyPatterns: snap.StudyPatterns,
	}
	if ctx.Strengths == nil {
		ctx.Strengths = profile.TopicStrengths{}
	}
	if ctx.WeakAreas == nil {
		ctx.WeakAreas = []profile.WeakArea{}
	}
	ctx.PromptContext = FormatForPrompt(ctx)
	return ctx
}

// FormatForPrompt renders the context block. Lines appear in priority
// order: weak areas, strengths, content length, learning style. Missing
// categories are skipped; with nothing to say it returns "".
func FormatForPrompt(c LearningContext) string {
	var lines []string

	if topics := weakTopics(c.WeakAreas); len(topics) > 0 {
		lines = append(lines, "Student needs help with: "+strings.Join(topics, ", "))
	}
	if strong := StrongTopics(c.Strengths); len(strong) > 0 {
		lines = append(lines, "Strong in: "+strings.Join(strong, ", "))
	}
	if c.Preferences.PreferredContentLength != "" {
		lines = append(lines, "Prefers "+c.Preferences.PreferredContentLength+" explanations")
	}
	if c.Preferences.EngagementStyle != "" {
		lines = append(lines, "Learning style: "+c.Preferences.EngagementStyle)
	}

	if len(lines) == 0 {
		return ""
	}
	return Header + "\n" + strings.Join(lines, "\n")
}

// StrongTopics returns topics scoring at least profile.StrongThreshold,
// highest first. Equal scores are ordered by name.
func StrongTopics(strengths profile.TopicStrengths) []string {
	type scored struct {
		topic string
		score int
	}
	var strong []scored
	for topic, score := range strengths {
		if score >= profile.StrongThreshold {
			strong = append(strong, scored{topic, score})
		}
	}
	sort.Slice(strong, func(i, j int) bool {
		if strong[i].score != strong[j].score {
			return strong[i].score > strong[j].score
		}
		return strong[i].topic < strong[j].topic
	})

	topics := make([]string, len(strong))
	for i, s := range strong {
		topics[i] = s.topic
	}
	return topics
}

func weakTopics(areas []profile.WeakArea) []string {
	topics := make([]string, 0, len(areas))
	for _, w := range areas {
		if w.Topic != "" {
			topics = append(topics, w.Topic)
		}
	}
	return topics
}
