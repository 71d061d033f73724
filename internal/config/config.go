// Package config handles configuration loading and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppName names the config and data directories.
const AppName = "sage"

// Environment overrides.
const (
	EnvDataDir  = "SAGE_DATA_DIR"
	EnvLogLevel = "SAGE_LOG_LEVEL"
	EnvConfig   = "SAGE_CONFIG"
)

// SocketFile is the default socket name inside the data directory.
const SocketFile = "sage.sock"

// Config holds all configuration for the engine and daemon.
type Config struct {
	StoragePath string `yaml:"storage_path"`
	// Paused turns every tracking call into a no-op. Profile reads and
	// prompt enhancement keep working.
	Paused bool `yaml:"paused"`

	Log      LogConfig      `yaml:"log"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Recorder RecorderConfig `yaml:"recorder"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// AnalysisConfig configures the periodic analyzer.
type AnalysisConfig struct {
	InitialDelay     time.Duration `yaml:"initial_delay"`
	Interval         time.Duration `yaml:"interval"`
	StrengthWindow   int           `yaml:"strength_window"`
	StudyWindow      int           `yaml:"study_window"`
	PreferenceWindow int           `yaml:"preference_window"`
	// KnownTopics always appear in topic strengths, at the default score
	// until quiz evidence exists.
	KnownTopics []string `yaml:"known_topics"`
	// Timezone for study-hour buckets; empty means the system zone.
	Timezone string `yaml:"timezone"`
}

// RecorderConfig configures the event recorder.
type RecorderConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// TrackerConfig configures the tracking facade.
type TrackerConfig struct {
	// InitRetry is the minimum wait between initialization attempts after
	// a failure.
	InitRetry time.Duration `yaml:"init_retry"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// NotifyConfig configures the profile-update socket.
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StoragePath: defaultDataDir(),

		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},

		Analysis: AnalysisConfig{
			InitialDelay:     30 * time.Second,
			Interval:         5 * time.Minute,
			StrengthWindow:   100,
			StudyWindow:      50,
			PreferenceWindow: 100,
		},

		Recorder: RecorderConfig{
			QueueSize: 256,
		},

		Tracker: TrackerConfig{
			InitRetry: 30 * time.Second,
		},

		Notify: NotifyConfig{
			Enabled: true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// Load loads configuration from SAGE_CONFIG or the default paths, falling
// back to defaults, then applies environment overrides.
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		return LoadFile(path)
	}

	cfg := DefaultConfig()

	for _, path := range configPaths() {
		err := loadFromFile(cfg, path)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// LoadFile loads one specific file over the defaults. A missing file is an
// error.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFromFile(cfg, expandTilde(path)); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func configPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", AppName, "config.yaml"))
	}
	return append(paths, filepath.Join(defaultDataDir(), "config.yaml"))
}

// loadFromFile reads a YAML config file and merges it into cfg.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	// Expand ~ in paths
	cfg.StoragePath = expandTilde(cfg.StoragePath)
	cfg.Notify.SocketPath = expandTilde(cfg.Notify.SocketPath)
	return nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.StoragePath = expandTilde(dir)
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.StoragePath == "" {
		errs = append(errs, errors.New("storage_path is required"))
	}
	if c.Analysis.InitialDelay < 0 {
		errs = append(errs, errors.New("analysis.initial_delay must not be negative"))
	}
	if c.Analysis.Interval <= 0 {
		errs = append(errs, errors.New("analysis.interval must be positive"))
	}
	if c.Analysis.StrengthWindow <= 0 || c.Analysis.StudyWindow <= 0 || c.Analysis.PreferenceWindow <= 0 {
		errs = append(errs, errors.New("analysis windows must be positive"))
	}
	if _, err := c.Analysis.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Recorder.QueueSize <= 0 {
		errs = append(errs, errors.New("recorder.queue_size must be positive"))
	}
	if c.Tracker.InitRetry < 0 {
		errs = append(errs, errors.New("tracker.init_retry must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Location resolves the configured timezone.
func (a AnalysisConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("analysis.timezone: %w", err)
	}
	return loc, nil
}

// SocketPath returns the configured socket path, defaulting to a file in
// the data directory.
func (c *Config) SocketPath() string {
	if c.Notify.SocketPath != "" {
		return c.Notify.SocketPath
	}
	return filepath.Join(c.StoragePath, SocketFile)
}

// Save writes the current config to disk.
func (c *Config) Save() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".config", AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600)
}

// EnsureStorageDir creates the storage directory if it doesn't exist.
func (c *Config) EnsureStorageDir() error {
	return os.MkdirAll(c.StoragePath, 0700)
}
