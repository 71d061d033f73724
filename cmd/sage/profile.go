package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Atharva-Kanherkar/sage/internal/notify"
	"github.com/Atharva-Kanherkar/sage/internal/storage"
	"github.com/Atharva-Kanherkar/sage/internal/tui"
	"github.com/spf13/cobra"
)

var (
	jsonOutput  bool
	systemOnly  bool
	confirmWipe bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the analysis daemon (default)",
	RunE:  runDaemon,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the learning profile",
	RunE:  runProfile,
}

var promptCmd = &cobra.Command{
	Use:   "prompt [text...]",
	Short: "Personalize a prompt with the learning profile",
	Long: `Print the prompt prefixed with the learner's profile, followed by the
system-prompt instructions for a tutoring model.

Examples:
  sage prompt "Explain the chain rule"
  sage prompt --system`,
	RunE: runPrompt,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis pass now",
	RunE:  runAnalyze,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics",
	RunE:  runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every recorded event and the profile",
	RunE:  runClear,
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export events and profile as JSON (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream profile updates from a running daemon",
	RunE:  runWatch,
}

func init() {
	profileCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the learning context as JSON")
	promptCmd.Flags().BoolVar(&systemOnly, "system", false, "print only the system-prompt instructions")
	clearCmd.Flags().BoolVar(&confirmWipe, "yes", false, "confirm deletion")

	rootCmd.AddCommand(daemonCmd, profileCmd, promptCmd, analyzeCmd, statsCmd,
		clearCmd, exportCmd, importCmd, watchCmd)
}

func runProfile(cmd *cobra.Command, _ []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	lc := a.tracker.GetLearningContext(cmd.Context())
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(lc)
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderProfile(lc))
	return nil
}

func runPrompt(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	system := a.tracker.PersonalizedSystemPrompt(cmd.Context())
	if systemOnly {
		fmt.Fprintln(out, system)
		return nil
	}

	text := strings.Join(args, " ")
	if text == "" {
		return errors.New("prompt text is required (or use --system)")
	}
	fmt.Fprintln(out, a.tracker.EnhancePrompt(cmd.Context(), text))
	if system != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, tui.Dim+"System prompt:"+tui.Reset)
		fmt.Fprintln(out, system)
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.tracker.RunAnalysis(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderReport(report))
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.tracker.Stats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderStats(stats))
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	if !confirmWipe {
		return errors.New("this deletes all learning data; re-run with --yes")
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tracker.ClearAllData(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All learning data deleted.")
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.tracker.Export(cmd.Context())
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if w != cmd.OutOrStdout() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d events and %d profile entries to %s\n",
			len(data.Events), len(data.Profile), args[0])
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var data storage.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.tracker.Import(cmd.Context(), &data)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d events (%d skipped) and %d profile entries.\n",
		res.EventsImported, res.EventsSkipped, res.ProfileImported)
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out := cmd.OutOrStdout()
	err = notify.Subscribe(cmd.Context(), cfg.SocketPath(), func(msg notify.Message) {
		fmt.Fprintf(out, "%s %s%s%s %s\n",
			tui.Dim+msg.Timestamp.Format("15:04:05")+tui.Reset,
			tui.Cyan, msg.Type, tui.Reset, string(msg.Payload))
	})
	if cmd.Context().Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", cfg.SocketPath(), err)
	}
	return nil
}
