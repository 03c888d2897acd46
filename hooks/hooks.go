// Package hooks provides production-ready Hook, Logger and MetricsCollector
// implementations.
package hooks

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

// With returns a logger that adds fields to every record.
func (s *SlogLogger) With(fields ...interface{}) *SlogLogger {
	return &SlogLogger{log: s.log.With(toAttrs(fields)...)}
}

func toAttrs(fields []interface{}) []any { return fields }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs session transitions at Info level; failures at Error.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) Bound(kind core.SessionKind, plugin string) {
	h.logger.Info("session.bound", "kind", string(kind), "plugin", plugin)
}

func (h *LoggingHook) Negotiated(plugin string, in core.PixelFormat, plan core.Plan) {
	h.logger.Info("session.negotiated",
		"plugin", plugin,
		"width", in.Width,
		"height", in.Height,
		"input", string(plan.Input),
		"output", string(plan.Output),
		"stages", plan.Shape.Stages(),
	)
}

func (h *LoggingHook) Finished(kind core.SessionKind, plugin string, stats core.SessionStats, err error) {
	if err != nil {
		h.logger.Error("session.error",
			"kind", string(kind),
			"plugin", plugin,
			"category", string(apperrors.CategoryOf(err)),
			"duration_ms", stats.Duration.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	h.logger.Info("session.done",
		"kind", string(kind),
		"plugin", plugin,
		"bytes_in", stats.BytesIn,
		"bytes_out", stats.BytesOut,
		"duration_ms", stats.Duration.Milliseconds(),
	)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates per-plugin session metrics; safe for
// concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	sessions   map[string]int64 // "kind/plugin" -> completed sessions
	durationMs map[string]int64 // "kind/plugin" -> cumulative ms
	errors     map[string]int64 // category -> count
	pluginErrs map[string]int64 // "kind/plugin" -> failed sessions

	totalBytesIn  int64
	totalBytesOut int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		sessions:   make(map[string]int64),
		durationMs: make(map[string]int64),
		errors:     make(map[string]int64),
		pluginErrs: make(map[string]int64),
	}
}

func metricKey(kind core.SessionKind, plugin string) string {
	if plugin == "" {
		plugin = "-"
	}
	return string(kind) + "/" + plugin
}

func (m *InMemoryMetrics) RecordSession(kind core.SessionKind, plugin string, stats core.SessionStats) {
	key := metricKey(kind, plugin)
	m.mu.Lock()
	m.sessions[key]++
	m.durationMs[key] += stats.Duration.Milliseconds()
	m.mu.Unlock()
	atomic.AddInt64(&m.totalBytesIn, stats.BytesIn)
	atomic.AddInt64(&m.totalBytesOut, stats.BytesOut)
}

func (m *InMemoryMetrics) RecordError(kind core.SessionKind, plugin string, category string) {
	if category == "" {
		category = "unknown"
	}
	m.mu.Lock()
	m.errors[category]++
	m.pluginErrs[metricKey(kind, plugin)]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		Sessions:      copyCounts(m.sessions),
		DurationMs:    copyCounts(m.durationMs),
		Errors:        copyCounts(m.errors),
		PluginErrors:  copyCounts(m.pluginErrs),
		TotalBytesIn:  atomic.LoadInt64(&m.totalBytesIn),
		TotalBytesOut: atomic.LoadInt64(&m.totalBytesOut),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.  Session
// maps are keyed "kind/plugin", e.g. "decode/png".
type MetricsSnapshot struct {
	Sessions      map[string]int64
	DurationMs    map[string]int64
	Errors        map[string]int64 // by error category
	PluginErrors  map[string]int64
	TotalBytesIn  int64
	TotalBytesOut int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds session outcomes into a MetricsCollector.  Use it when a
// collector should observe sessions through the hook list rather than
// pipeline.WithMetrics.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) Bound(core.SessionKind, string) {}

func (h *MetricsHook) Negotiated(string, core.PixelFormat, core.Plan) {}

func (h *MetricsHook) Finished(kind core.SessionKind, plugin string, stats core.SessionStats, err error) {
	if err != nil {
		h.collector.RecordError(kind, plugin, string(apperrors.CategoryOf(err)))
		return
	}
	h.collector.RecordSession(kind, plugin, stats)
}

var (
	_ core.Logger           = (*SlogLogger)(nil)
	_ core.Hook             = (*LoggingHook)(nil)
	_ core.Hook             = (*MetricsHook)(nil)
	_ core.MetricsCollector = (*InMemoryMetrics)(nil)
)
