// Package pipeline binds decoder and encoder plugins to streams: the
// Dispatcher probes and proxies a decoder, the Builder negotiates a color
// space and assembles the stages that feed an encoder.
package pipeline

import (
	"time"

	"github.com/Skryldev/imagestream/core"
)

// Option configures a Dispatcher or a Builder.
type Option func(*settings)

type settings struct {
	logger  core.Logger
	hooks   []core.Hook
	metrics core.MetricsCollector
	now     func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{logger: core.NopLogger{}, now: time.Now}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHooks registers session observers.
func WithHooks(h ...core.Hook) Option {
	return func(s *settings) { s.hooks = append(s.hooks, h...) }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m core.MetricsCollector) Option {
	return func(s *settings) { s.metrics = m }
}

func (s *settings) bound(kind core.SessionKind, plugin string) {
	for _, h := range s.hooks {
		h.Bound(kind, plugin)
	}
}

func (s *settings) negotiated(plugin string, in core.PixelFormat, plan core.Plan) {
	for _, h := range s.hooks {
		h.Negotiated(plugin, in, plan)
	}
}

func (s *settings) finished(kind core.SessionKind, plugin string, stats core.SessionStats, err error, category string) {
	for _, h := range s.hooks {
		h.Finished(kind, plugin, stats, err)
	}
	if s.metrics == nil {
		return
	}
	if err != nil {
		s.metrics.RecordError(kind, plugin, category)
		return
	}
	s.metrics.RecordSession(kind, plugin, stats)
}
