package personalize

import (
	"strings"

	"github.com/Atharva-Kanherkar/sage/internal/profile"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Priorities for recommended topics.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

// Recommendation suggests a topic to study next.
type Recommendation struct {
	Topic    string `json:"topic"`
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
	Strength int    `json:"strength"`
}

// EnhancePrompt prepends the context block to prompt. Without a context
// the prompt is returned unchanged.
func EnhancePrompt(c LearningContext, prompt string) string {
	if c.PromptContext == "" {
		return prompt
	}
	return c.PromptContext + Separator + prompt
}

// SystemPrompt returns directives to append to a system prompt, one per
// line, or "" when the profile is empty.
func SystemPrompt(c LearningContext) string {
	var additions []string

	if topics := weakTopics(c.WeakAreas); len(topics) > 0 {
		additions = append(additions, "The student is struggling with: "+strings.Join(topics, ", ")+
			". Provide extra help and simpler explanations on these topics.")
	}

	switch c.Preferences.EngagementStyle {
	case "":
	case profile.StyleThorough:
		additions = append(additions, "This student prefers detailed, comprehensive explanations.")
	case profile.StyleSkimmer:
		additions = append(additions, "This student prefers brief, to-the-point answers. Keep responses concise.")
	default:
		additions = append(additions, "This student prefers balanced explanations.")
	}

	switch c.Preferences.PreferredContentLength {
	case profile.LengthShort:
		additions = append(additions, "Keep responses under 100 words when possible.")
	case profile.LengthLong:
		additions = append(additions, "Provide thorough explanations with examples.")
	}

	if strong := StrongTopics(c.Strengths); len(strong) > 0 {
		additions = append(additions, "The student is strong in: "+strings.Join(strong, ", ")+
			". You can use these as anchor points for analogies.")
	}

	return strings.Join(additions, "\n")
}

// EnhanceMessages appends the system-prompt directives to the first system
// message, or prepends a system message when there is none. The input slice
// is not modified. Empty conversations and empty profiles pass through.
func EnhanceMessages(c LearningContext, messages []Message) []Message {
	addition := SystemPrompt(c)
	if addition == "" || len(messages) == 0 {
		return messages
	}

	out := make([]Message, 0, len(messages)+1)
	for i, m := range messages {
		if m.Role == RoleSystem {
			out = append(out, messages[:i]...)
			out = append(out, Message{Role: RoleSystem, Content: m.Content + "\n\n" + addition})
			return append(out, messages[i+1:]...)
		}
	}

	out = append(out, Message{Role: RoleSystem, Content: addition})
	return append(out, messages...)
}

// RecommendedTopics lists weak areas first, then advanced follow-ups for
// strong topics.
func RecommendedTopics(c LearningContext) []Recommendation {
	recs := make([]Recommendation, 0, len(c.WeakAreas))

	for _, w := range c.WeakAreas {
		recs = append(recs, Recommendation{
			Topic:    w.Topic,
			Reason:   "Needs improvement",
			Priority: PriorityHigh,
			Strength: w.Strength,
		})
	}

	for _, topic := range StrongTopics(c.Strengths) {
		recs = append(recs, Recommendation{
			Topic:    topic + " - Advanced",
			Reason:   "Ready for next level",
			Priority: PriorityMedium,
			Strength: c.Strengths[topic],
		})
	}

	return recs
}
