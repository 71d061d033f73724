// Package metrics exposes Prometheus counters for the recorder and analyzer.
//
// Each Metrics value owns a private registry, so several engines (and tests)
// can coexist in one process without duplicate-registration panics. All
// recording methods are safe to call on a nil *Metrics.
//
// Metrics:
//   - sage_events_recorded_total{category} - events appended to the store
//   - sage_events_dropped_total - events dropped because the queue was full
//   - sage_record_errors_total - appends that failed at the store
//   - sage_analysis_runs_total{status} - analysis runs by outcome (ok, degraded)
//   - sage_subanalysis_errors_total{analysis} - failed sub-analyses
//   - sage_analysis_duration_seconds - analysis run latency
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	EventsRecorded    *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	RecordErrors      prometheus.Counter
	AnalysisRuns      *prometheus.CounterVec
	SubanalysisErrors *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sage_events_recorded_total",
				Help: "Total number of events appended to the event store",
			},
			[]string{"category"},
		),

		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sage_events_dropped_total",
				Help: "Total number of events dropped because the recorder queue was full",
			},
		),

		RecordErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sage_record_errors_total",
				Help: "Total number of event appends that failed",
			},
		),

		AnalysisRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sage_analysis_runs_total",
				Help: "Total number of analysis runs by status",
			},
			[]string{"status"},
		),

		SubanalysisErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sage_subanalysis_errors_total",
				Help: "Total number of failed sub-analyses",
			},
			[]string{"analysis"},
		),

		AnalysisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sage_analysis_duration_seconds",
				Help:    "Duration of analysis runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
		),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent counts a persisted event.
func (m *Metrics) RecordEvent(category string) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(category).Inc()
}

// RecordDrop counts an event dropped before reaching the store.
func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// RecordError counts a failed append.
func (m *Metrics) RecordError() {
	if m == nil {
		return
	}
	m.RecordErrors.Inc()
}

// RecordAnalysis records one analysis run and the names of any sub-analyses
// that failed in it.
func (m *Metrics) RecordAnalysis(duration time.Duration, failed []string) {
	if m == nil {
		return
	}
	status := StatusOK
	if len(failed) > 0 {
		status = StatusDegraded
	}
	m.AnalysisRuns.WithLabelValues(status).Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
	for _, name := range failed {
		m.SubanalysisErrors.WithLabelValues(name).Inc()
	}
}
