// Package main is the entry point for the sage daemon and CLI.
//
// Usage:
//
//	sage              - Start the analysis daemon
//	sage profile      - Show the learning profile
//	sage prompt "..." - Personalize a prompt
//	sage track ...    - Record activity
//	sage mcp          - Serve the tracker to MCP clients over stdio
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Atharva-Kanherkar/sage/internal/config"
	"github.com/Atharva-Kanherkar/sage/internal/logger"
	"github.com/Atharva-Kanherkar/sage/internal/tracker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "dev"

	configPath string
	dataDir    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "Background learning analytics for personalized tutoring",
	Long: `sage records how you study (notes, quizzes, study sessions, searches and
reading engagement), keeps a profile of your strengths, weak areas and
preferences, and uses it to personalize prompts for a tutoring model.

Run without a command to start the analysis daemon.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/sage/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides storage_path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.StoragePath = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

// app bundles what every command needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	tracker *tracker.Tracker
}

// openApp loads config, builds the logger and opens a tracker. The tracker
// must be ready: CLI commands report initialization errors instead of
// silently degrading.
func openApp(schedule bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openAppWith(cfg, schedule)
}

func openAppWith(cfg *config.Config, schedule bool) (*app, error) {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	tr := tracker.New(tracker.Options{
		Config:   cfg,
		Logger:   log,
		Schedule: schedule,
	})
	if err := tr.Ready(); err != nil {
		tr.Close()
		log.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: log, tracker: tr}, nil
}

func (a *app) Close() {
	if err := a.tracker.Close(); err != nil {
		a.logger.Warn("close tracker", zap.Error(err))
	}
	a.logger.Sync()
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("sage running",
		zap.String("data", a.cfg.StoragePath),
		zap.Duration("interval", a.cfg.Analysis.Interval),
		zap.Bool("paused", a.cfg.Paused))

	<-cmd.Context().Done()
	a.logger.Info("shutting down")

	if stats, err := a.tracker.Stats(context.Background()); err == nil {
		a.logger.Info("session stats", zap.Int64("events", stats.TotalEvents))
	}
	return nil
}
