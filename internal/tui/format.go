// Package tui renders profiles and reports for the terminal.
package tui

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/insights"
	"github.com/Atharva-Kanherkar/sage/internal/personalize"
	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"github.com/Atharva-Kanherkar/sage/internal/storage"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Cyan    = "\033[36m"
	Magenta = "\033[35m"

	BrightGreen = "\033[92m"
	BrightRed   = "\033[91m"
)

// BarWidth is the width of strength bars.
const BarWidth = 20

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

var weekdays = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Box draws a box around text.
func Box(title, content string) string {
	lines := strings.Split(content, "\n")
	maxLen := visibleLen(title)
	for _, line := range lines {
		if n := visibleLen(line); n > maxLen {
			maxLen = n
		}
	}

	width := maxLen + 4
	top := Cyan + "╭" + strings.Repeat("─", width) + "╮" + Reset
	titleLine := Cyan + "│" + Reset + Bold + " " + title + strings.Repeat(" ", width-visibleLen(title)-1) + Reset + Cyan + "│" + Reset
	separator := Cyan + "├" + strings.Repeat("─", width) + "┤" + Reset
	bottom := Cyan + "╰" + strings.Repeat("─", width) + "╯" + Reset

	result := []string{top, titleLine, separator}
	for _, line := range lines {
		padding := width - visibleLen(line) - 1
		if padding < 0 {
			padding = 0
		}
		result = append(result, Cyan+"│"+Reset+" "+line+strings.Repeat(" ", padding)+Cyan+"│"+Reset)
	}
	result = append(result, bottom)

	return strings.Join(result, "\n")
}

// StripANSI removes ANSI escape codes.
func StripANSI(text string) string {
	return ansiRegex.ReplaceAllString(text, "")
}

func visibleLen(text string) int {
	return len([]rune(StripANSI(text)))
}

// StrengthBar renders a 0-100 strength as a colored bar. Weak scores are
// red, strong ones green.
func StrengthBar(label string, strength, width int) string {
	strength = profile.Clamp(strength)
	filled := strength * width / profile.MaxScore

	var color string
	switch {
	case strength < profile.WeakThreshold:
		color = Red
	case strength < profile.StrongThreshold:
		color = Yellow
	default:
		color = Green
	}

	bar := color + strings.Repeat("█", filled) + Dim + strings.Repeat("░", width-filled) + Reset
	return fmt.Sprintf("%s [%s] %s%3d%%%s", label, bar, Dim, strength, Reset)
}

// RenderProfile formats a learning context for display.
func RenderProfile(c personalize.LearningContext) string {
	if c.Empty() {
		return Box("Learning Profile", Dim+"No learning data yet."+Reset)
	}

	var lines []string

	if len(c.Strengths) > 0 {
		lines = append(lines, Bold+"Topic strengths"+Reset)
		topics := make([]string, 0, len(c.Strengths))
		width := 0
		for topic := range c.Strengths {
			topics = append(topics, topic)
			if n := len([]rune(topic)); n > width {
				width = n
			}
		}
		sort.Slice(topics, func(i, j int) bool {
			si, sj := c.Strengths[topics[i]], c.Strengths[topics[j]]
			if si != sj {
				return si > sj
			}
			return topics[i] < topics[j]
		})
		for _, topic := range topics {
			label := topic + strings.Repeat(" ", width-len([]rune(topic)))
			lines = append(lines, "  "+StrengthBar(label, c.Strengths[topic], BarWidth))
		}
	}

	if len(c.WeakAreas) > 0 {
		lines = append(lines, "", Bold+"Needs work"+Reset)
		for _, w := range c.WeakAreas {
			lines = append(lines, fmt.Sprintf("  %s•%s %s %s(%d)%s", BrightRed, Reset, w.Topic, Dim, w.Strength, Reset))
		}
	}

	if !c.Preferences.IsZero() {
		lines = append(lines, "", Bold+"Preferences"+Reset)
		if c.Preferences.PreferredContentLength != "" {
			lines = append(lines, "  Content length: "+Magenta+c.Preferences.PreferredContentLength+Reset)
		}
		if c.Preferences.EngagementStyle != "" {
			lines = append(lines, "  Learning style: "+Magenta+c.Preferences.EngagementStyle+Reset)
		}
	}

	if p := c.StudyPatterns; p != nil {
		lines = append(lines, "", Bold+"Study patterns"+Reset,
			fmt.Sprintf("  Peak time: %s around %02d:00", weekday(p.PeakDay), p.PeakHour),
			fmt.Sprintf("  Average session: %d min over %d sessions", p.AverageSessionMinutes, p.TotalSessions))
	}

	return Box("Learning Profile", strings.Join(lines, "\n"))
}

// RenderReport formats the outcome of one analysis run.
func RenderReport(r *insights.AnalysisReport) string {
	var b strings.Builder
	if r.Degraded() {
		fmt.Fprintf(&b, "%sAnalysis finished with errors%s in %s\n", Yellow, Reset, r.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(&b, "%sAnalysis complete%s in %s\n", BrightGreen, Reset, r.Duration.Round(time.Millisecond))
	}
	for _, a := range insights.Analyses {
		if msg, failed := r.Failures[a]; failed {
			fmt.Fprintf(&b, "  %s✗%s %s: %s\n", Red, Reset, a, msg)
		} else {
			fmt.Fprintf(&b, "  %s✓%s %s\n", Green, Reset, a)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderStats formats store statistics.
func RenderStats(s storage.Stats) string {
	lines := []string{fmt.Sprintf("Events: %s%d%s", Bold, s.TotalEvents, Reset)}

	cats := make([]string, 0, len(s.ByCategory))
	for cat := range s.ByCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		lines = append(lines, fmt.Sprintf("  %-11s %d", cat, s.ByCategory[cat]))
	}

	lines = append(lines,
		fmt.Sprintf("Sessions: %d", s.Sessions),
		fmt.Sprintf("Profile entries: %d", s.ProfileEntries),
		fmt.Sprintf("Database size: %s", humanBytes(s.DatabaseSize)))
	return Box("Storage", strings.Join(lines, "\n"))
}

func weekday(d int) string {
	if d < 0 || d >= len(weekdays) {
		return "?"
	}
	return weekdays[d]
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
