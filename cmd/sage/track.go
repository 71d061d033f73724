package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/event"
	"github.com/Atharva-Kanherkar/sage/internal/recorder"
	"github.com/spf13/cobra"
)

var (
	trackSubject    string
	trackTopic      string
	trackDifficulty string
	trackCorrect    bool
	trackWrong      bool
	trackAction     string
	trackWords      int
	trackMinutes    float64
	trackClicked    []string
	trackResults    []string
	trackScroll     float64
	trackSeconds    float64
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Record learning activity",
	Long: `Record learning activity by hand or from scripts.

Examples:
  sage track quiz q1 --topic derivatives --correct
  sage track note n42 --words 1200 --subject calculus
  sage track study --subject physics --minutes 45
  sage track search "chain rule" --results a,b,c --clicked b
  sage track engagement article-7 --scroll 90 --seconds 240`,
}

var trackQuizCmd = &cobra.Command{
	Use:   "quiz [quiz-id]",
	Short: "Record a quiz answer",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTrackQuiz,
}

var trackNoteCmd = &cobra.Command{
	Use:   "note <note-id>",
	Short: "Record a note view or edit",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackNote,
}

var trackStudyCmd = &cobra.Command{
	Use:   "study",
	Short: "Record a study session that just ended",
	RunE:  runTrackStudy,
}

var trackSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Record a search",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackSearch,
}

var trackEngagementCmd = &cobra.Command{
	Use:   "engagement <content-id>",
	Short: "Record how a piece of content was read",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackEngagement,
}

func init() {
	trackQuizCmd.Flags().StringVar(&trackTopic, "topic", "", "topic the question tests")
	trackQuizCmd.Flags().StringVar(&trackSubject, "subject", "", "broader subject")
	trackQuizCmd.Flags().StringVar(&trackDifficulty, "difficulty", "", "easy, medium or hard")
	trackQuizCmd.Flags().BoolVar(&trackCorrect, "correct", false, "the answer was correct")
	trackQuizCmd.Flags().BoolVar(&trackWrong, "incorrect", false, "the answer was incorrect")
	trackQuizCmd.Flags().Float64Var(&trackSeconds, "seconds", 0, "time spent on the question")
	trackQuizCmd.MarkFlagsMutuallyExclusive("correct", "incorrect")
	trackQuizCmd.MarkFlagsOneRequired("correct", "incorrect")

	trackNoteCmd.Flags().StringVar(&trackAction, "action", event.ActionView, "what happened to the note")
	trackNoteCmd.Flags().StringVar(&trackSubject, "subject", "", "subject of the note")
	trackNoteCmd.Flags().IntVar(&trackWords, "words", 0, "word count")

	trackStudyCmd.Flags().StringVar(&trackSubject, "subject", "", "subject studied")
	trackStudyCmd.Flags().Float64Var(&trackMinutes, "minutes", 0, "session length in minutes")

	trackSearchCmd.Flags().StringSliceVar(&trackResults, "results", nil, "result ids shown")
	trackSearchCmd.Flags().StringSliceVar(&trackClicked, "clicked", nil, "result ids opened")

	trackEngagementCmd.Flags().Float64Var(&trackScroll, "scroll", 0, "scroll depth percent")
	trackEngagementCmd.Flags().Float64Var(&trackSeconds, "seconds", 0, "time on page")
	trackEngagementCmd.Flags().StringVar(&trackAction, "action", event.ActionView, "engagement kind")

	trackCmd.AddCommand(trackQuizCmd, trackNoteCmd, trackStudyCmd, trackSearchCmd, trackEngagementCmd)
	rootCmd.AddCommand(trackCmd)
}

// track opens the tracker, runs fn and closes it, which stores every
// pending event.
func track(cmd *cobra.Command, fn func(a *app) string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	if a.cfg.Paused {
		a.Close()
		return errors.New("tracking is paused (paused: true in config)")
	}

	msg := fn(a)
	a.Close()
	if msg != "" {
		fmt.Fprintln(cmd.OutOrStdout(), msg)
	}
	return nil
}

func runTrackQuiz(cmd *cobra.Command, args []string) error {
	if trackTopic == "" {
		return errors.New("--topic is required")
	}
	quizID := ""
	if len(args) == 1 {
		quizID = args[0]
	}
	return track(cmd, func(a *app) string {
		a.tracker.TrackQuizPerformance(quizID, trackCorrect, recorder.QuizMeta{
			Subject:    trackSubject,
			Topic:      trackTopic,
			Difficulty: trackDifficulty,
			TimeSpent:  seconds(trackSeconds),
		})
		if trackCorrect {
			return fmt.Sprintf("Recorded correct answer on %s", trackTopic)
		}
		return fmt.Sprintf("Recorded incorrect answer on %s", trackTopic)
	})
}

func runTrackNote(cmd *cobra.Command, args []string) error {
	return track(cmd, func(a *app) string {
		a.tracker.TrackNoteActivity(args[0], trackAction, recorder.NoteMeta{
			Subject:   trackSubject,
			WordCount: trackWords,
		})
		return fmt.Sprintf("Recorded note %s: %s", trackAction, args[0])
	})
}

func runTrackStudy(cmd *cobra.Command, _ []string) error {
	if trackMinutes <= 0 {
		return errors.New("--minutes must be positive")
	}
	end := time.Now()
	start := end.Add(-time.Duration(trackMinutes * float64(time.Minute)))
	return track(cmd, func(a *app) string {
		if !a.tracker.TrackStudyPeriod(trackSubject, start, end) {
			return "Session too short to record"
		}
		return fmt.Sprintf("Recorded %.0f minute study session", trackMinutes)
	})
}

func runTrackSearch(cmd *cobra.Command, args []string) error {
	clicked := make(map[string]bool, len(trackClicked))
	for _, id := range trackClicked {
		clicked[id] = true
	}
	results := make([]recorder.SearchResult, 0, len(trackResults))
	for _, id := range trackResults {
		results = append(results, recorder.SearchResult{ID: id, Clicked: clicked[id]})
	}
	return track(cmd, func(a *app) string {
		a.tracker.TrackSearch(args[0], results)
		return fmt.Sprintf("Recorded search %q", args[0])
	})
}

func runTrackEngagement(cmd *cobra.Command, args []string) error {
	return track(cmd, func(a *app) string {
		a.tracker.TrackEngagement(args[0], trackAction, recorder.EngagementMeta{
			ScrollDepth: trackScroll,
			TimeOnPage:  seconds(trackSeconds),
		})
		return fmt.Sprintf("Recorded %s of %s", trackAction, args[0])
	})
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
