// Package daemon runs the background side of sage: the periodic batch
// analysis, the profile-update socket and the metrics endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/insights"
	"github.com/Atharva-Kanherkar/sage/internal/metrics"
	"github.com/Atharva-Kanherkar/sage/internal/notify"
	"github.com/Atharva-Kanherkar/sage/internal/personalize"
	"github.com/Atharva-Kanherkar/sage/internal/profile"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultHeartbeat is how often connected clients get a heartbeat.
const DefaultHeartbeat = 30 * time.Second

// Analyzer is the engine surface the manager drives. *insights.Engine
// satisfies it.
type Analyzer interface {
	RunAnalysis(ctx context.Context) *insights.AnalysisReport
	Snapshot(ctx context.Context) (profile.Snapshot, error)
	OnUpdate(fn func(insights.Update))
}

// Config configures the manager.
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	// Heartbeat is rounded to whole seconds; zero means DefaultHeartbeat.
	Heartbeat time.Duration

	// SocketPath enables the update socket when set.
	SocketPath string
	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string
	Metrics     *metrics.Metrics
}

// Manager schedules analyses and serves local clients.
type Manager struct {
	engine Analyzer
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc
	server  *http.Server
	wiredUp bool

	// socket is read by jobs and engine observers, which may run while Stop
	// holds mu.
	socket atomic.Pointer[notify.SocketServer]
}

// NewManager creates a manager. Call Start to begin scheduling.
func NewManager(engine Analyzer, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	return &Manager{
		engine: engine,
		cfg:    cfg,
		logger: logger.Named("daemon"),
	}
}

// Start schedules the first analysis after InitialDelay and every Interval
// after that. A run that is still going when the next one is due causes
// that tick to be skipped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("daemon: already running")
	}
	if m.cfg.Interval <= 0 {
		return fmt.Errorf("daemon: interval must be positive, got %s", m.cfg.Interval)
	}

	runCtx, cancel := context.WithCancel(ctx)

	if m.cfg.MetricsAddr != "" && m.cfg.Metrics == nil {
		cancel()
		return errors.New("daemon: metrics address set without metrics")
	}

	var socket *notify.SocketServer
	if m.cfg.SocketPath != "" {
		socket = notify.NewSocketServer(m.cfg.SocketPath, m.subscribe, m.logger)
		if err := socket.Start(); err != nil {
			cancel()
			return fmt.Errorf("daemon: socket: %w", err)
		}
	}

	if m.cfg.MetricsAddr != "" {
		if err := m.serveMetrics(); err != nil {
			cancel()
			if socket != nil {
				socket.Stop()
			}
			return fmt.Errorf("daemon: metrics: %w", err)
		}
	}
	m.socket.Store(socket)

	if !m.wiredUp {
		m.engine.OnUpdate(m.broadcastUpdate)
		m.wiredUp = true
	}

	clog := cronLogger{m.logger.Sugar()}
	c := cron.New(cron.WithLogger(clog))

	analysis := cron.NewChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)).
		Then(cron.FuncJob(func() { m.analyze(runCtx) }))
	c.Schedule(newDelayedSchedule(time.Now().Add(m.cfg.InitialDelay), m.cfg.Interval), analysis)

	if socket != nil {
		heartbeat := cron.NewChain(cron.Recover(clog)).Then(cron.FuncJob(m.heartbeat))
		c.Schedule(cron.Every(m.cfg.Heartbeat), heartbeat)
	}

	c.Start()
	m.cron = c
	m.cancel = cancel
	m.running = true

	m.logger.Info("analysis scheduler started",
		zap.Duration("initial_delay", m.cfg.InitialDelay),
		zap.Duration("interval", m.cfg.Interval))
	return nil
}

// Stop cancels any in-flight analysis, waits for it to return and shuts
// down the socket and metrics endpoint.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.cancel()
	<-m.cron.Stop().Done()

	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Warn("metrics shutdown", zap.Error(err))
		}
		cancel()
		m.server = nil
	}
	if socket := m.socket.Swap(nil); socket != nil {
		socket.Stop()
	}

	m.running = false
	m.logger.Info("analysis scheduler stopped")
}

// Running reports whether the scheduler is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunNow runs one analysis immediately, outside the schedule.
func (m *Manager) RunNow(ctx context.Context) *insights.AnalysisReport {
	return m.analyze(ctx)
}

func (m *Manager) analyze(ctx context.Context) *insights.AnalysisReport {
	report := m.engine.RunAnalysis(ctx)
	m.broadcast(insights.MsgTypeAnalysis, report)
	return report
}

func (m *Manager) heartbeat() {
	m.broadcast(insights.MsgTypeHeartbeat, nil)
}

func (m *Manager) broadcastUpdate(u insights.Update) {
	m.broadcast(insights.MsgTypeUpdate, u)
}

func (m *Manager) broadcast(kind string, payload any) {
	socket := m.socket.Load()
	if socket == nil {
		return
	}
	socket.Broadcast(insights.SocketMessage{
		Type:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// subscribe answers a new client with the current learning context.
func (m *Manager) subscribe(ctx context.Context) (insights.SocketMessage, bool) {
	snap, err := m.engine.Snapshot(ctx)
	if err != nil {
		m.logger.Warn("snapshot for subscriber", zap.Error(err))
	}
	return insights.SocketMessage{
		Type:      insights.MsgTypeProfile,
		Timestamp: time.Now(),
		Payload:   personalize.BuildContext(snap),
	}, true
}

func (m *Manager) serveMetrics() error {
	ln, err := net.Listen("tcp", m.cfg.MetricsAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.cfg.Metrics.Handler())
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server", zap.Error(err))
		}
	}(m.server)

	m.logger.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// delayedSchedule fires once at first, then on a constant interval.
// cron calls Next from a single goroutine.
type delayedSchedule struct {
	first time.Time
	every cron.ConstantDelaySchedule
	fired bool
}

func newDelayedSchedule(first time.Time, every time.Duration) *delayedSchedule {
	return &delayedSchedule{first: first, every: cron.Every(every)}
}

func (s *delayedSchedule) Next(t time.Time) time.Time {
	if !s.fired {
		s.fired = true
		if s.first.After(t) {
			return s.first
		}
		return t
	}
	return s.every.Next(t)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
