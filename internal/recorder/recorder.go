// Package recorder turns tracked interactions into stored events.
//
// Every Track* call assembles its payload, stamps it and hands it to a
// single writer goroutine through a bounded queue, then returns. Calls
// never block on I/O and never report errors: a failed append is logged
// and counted, and a full queue drops the event. The writer appends in
// call order and, after a successful append, feeds quiz answers and study
// sessions to the incremental updater.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/event"
	"github.com/Atharva-Kanherkar/sage/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the queue capacity used when none is configured.
const DefaultQueueSize = 256

// writeTimeout bounds one append plus its incremental update.
const writeTimeout = 10 * time.Second

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("recorder: closed")

// Appender persists events. *storage.Store satisfies it.
type Appender interface {
	Append(ctx context.Context, e *event.Event) (int64, error)
}

// Updater receives the incremental side effects of stored events.
// *insights.Engine satisfies it.
type Updater interface {
	UpdateTopicStrength(ctx context.Context, topic string, correct bool) error
	UpdateStudyTimePattern(ctx context.Context, start time.Time) error
}

// Config configures a Recorder.
type Config struct {
	Store     Appender
	Updater   Updater
	QueueSize int
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// SessionID overrides the generated process-lifetime session id.
	SessionID string
}

// Recorder records events asynchronously.
type Recorder struct {
	store     Appender
	updater   Updater
	logger    *zap.Logger
	metrics   *metrics.Metrics
	sessionID string

	topicMu      sync.RWMutex
	currentTopic string

	// closeMu guards closed and the queue's lifetime: senders hold the read
	// side, Close holds the write side while closing the channel.
	closeMu sync.RWMutex
	closed  bool
	queue   chan item
	done    chan struct{}
}

type item struct {
	ev    *event.Event
	after func(ctx context.Context) error
	// flushed, when set, marks a flush barrier rather than an event.
	flushed chan struct{}
}

// New creates a Recorder and starts its writer.
func New(cfg Config) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	r := &Recorder{
		store:     cfg.Store,
		updater:   cfg.Updater,
		logger:    logger.Named("recorder"),
		metrics:   cfg.Metrics,
		sessionID: sessionID,
		queue:     make(chan item, size),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// SessionID returns the id stamped on every event from this recorder.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// SetCurrentTopic sets the ambient topic used when an event has no subject.
func (r *Recorder) SetCurrentTopic(topic string) {
	r.topicMu.Lock()
	defer r.topicMu.Unlock()
	r.currentTopic = topic
}

// CurrentTopic returns the ambient topic.
func (r *Recorder) CurrentTopic() string {
	r.topicMu.RLock()
	defer r.topicMu.RUnlock()
	return r.currentTopic
}

// RecordEvent stamps and enqueues a generic event.
func (r *Recorder) RecordEvent(category event.Category, action string, data event.Data) {
	r.record(category, action, data, nil)
}

func (r *Recorder) record(category event.Category, action string, data event.Data, after func(context.Context) error) {
	if !category.Valid() {
		r.logger.Warn("dropping event with unknown category", zap.String("category", string(category)))
		return
	}

	e := event.New(category, action, data)
	e.SessionID = r.sessionID
	e.Subject = e.Data.String("subject")
	if e.Subject == "" {
		e.Subject = r.CurrentTopic()
	}

	r.enqueue(item{ev: e, after: after})
}

func (r *Recorder) enqueue(it item) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()

	if r.closed {
		r.logger.Debug("recorder closed, dropping event", zap.String("category", string(it.ev.Category)))
		r.metrics.RecordDrop()
		return
	}

	select {
	case r.queue <- it:
	default:
		r.logger.Warn("queue full, dropping event",
			zap.String("category", string(it.ev.Category)),
			zap.String("action", it.ev.Action))
		r.metrics.RecordDrop()
	}
}

// Flush waits until every event enqueued before the call has been written.
func (r *Recorder) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	r.closeMu.RLock()
	if r.closed {
		r.closeMu.RUnlock()
		return ErrClosed
	}
	select {
	case r.queue <- item{flushed: barrier}:
		r.closeMu.RUnlock()
	case <-ctx.Done():
		r.closeMu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the writer. It is safe to call more
// than once.
func (r *Recorder) Close() error {
	r.closeMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.closeMu.Unlock()

	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for it := range r.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		r.write(it)
	}
}

func (r *Recorder) write(it item) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.RecordError()
			r.logger.Error("panic while recording event",
				zap.String("category", string(it.ev.Category)),
				zap.String("panic", fmt.Sprint(p)))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := r.store.Append(ctx, it.ev); err != nil {
		r.metrics.RecordError()
		r.logger.Warn("append failed",
			zap.String("category", string(it.ev.Category)),
			zap.String("action", it.ev.Action),
			zap.Error(err))
		return
	}
	r.metrics.RecordEvent(string(it.ev.Category))

	if it.after == nil || r.updater == nil {
		return
	}
	if err := it.after(ctx); err != nil {
		r.logger.Warn("incremental update failed",
			zap.String("category", string(it.ev.Category)),
			zap.Error(err))
	}
}
