package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/Skryldev/imagestream/core"
	"github.com/Skryldev/imagestream/utils"
)

// Copy streams r into w in chunks of chunkSize and then closes w.  When the
// copy fails and w can be closed with an error (a Dispatcher can), the
// failure is handed to it so the session ends in its errored state.
func Copy(ctx context.Context, w io.WriteCloser, r io.Reader, chunkSize int) error {
	if _, err := utils.CopyChunks(ctx, w, r, chunkSize); err != nil {
		if c, ok := w.(interface{ CloseWithError(error) error }); ok {
			return c.CloseWithError(err)
		}
		return errors.Join(err, w.Close())
	}
	return w.Close()
}

// ── Collector ─────────────────────────────────────────────────────────────────

// CollectedFrame is one frame's worth of pixels.
type CollectedFrame struct {
	Frame  core.Frame
	Pixels []byte
}

// Collector is a PixelSink that keeps everything it receives.  Pixels that
// arrive before any Frame event go to an implicit frame 0.
type Collector struct {
	// DiscardPixels counts pixel bytes without keeping them.
	DiscardPixels bool

	Declared   core.PixelFormat
	HasFormat  bool
	Metas      []core.Metadata
	Frames     []CollectedFrame
	PixelBytes int64
	Ended      bool
	// Events lists event kinds in arrival order.
	Events []string
}

func (c *Collector) Format(f core.PixelFormat) error {
	c.Declared = f
	c.HasFormat = true
	c.Events = append(c.Events, "format")
	return nil
}

func (c *Collector) Meta(m core.Metadata) error {
	c.Metas = append(c.Metas, m)
	c.Events = append(c.Events, "meta")
	return nil
}

func (c *Collector) Frame(f core.Frame) error {
	c.Frames = append(c.Frames, CollectedFrame{Frame: f})
	c.Events = append(c.Events, "frame")
	return nil
}

func (c *Collector) Pixels(p []byte) error {
	c.PixelBytes += int64(len(p))
	c.Events = append(c.Events, "pixels")
	if c.DiscardPixels {
		return nil
	}
	if len(c.Frames) == 0 {
		c.Frames = append(c.Frames, CollectedFrame{})
	}
	last := &c.Frames[len(c.Frames)-1]
	last.Pixels = append(last.Pixels, p...)
	return nil
}

func (c *Collector) End() error {
	c.Ended = true
	c.Events = append(c.Events, "end")
	return nil
}

// ── Tee ───────────────────────────────────────────────────────────────────────

// Tee returns a sink that forwards every event to each of sinks in order.
// The first error stops the fan-out and is returned.
func Tee(sinks ...core.PixelSink) core.PixelSink {
	return tee(sinks)
}

type tee []core.PixelSink

func (t tee) each(fn func(core.PixelSink) error) error {
	for _, s := range t {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) Format(f core.PixelFormat) error {
	return t.each(func(s core.PixelSink) error { return s.Format(f) })
}

func (t tee) Meta(m core.Metadata) error {
	return t.each(func(s core.PixelSink) error { return s.Meta(m) })
}

func (t tee) Frame(f core.Frame) error {
	return t.each(func(s core.PixelSink) error { return s.Frame(f) })
}

func (t tee) Pixels(p []byte) error {
	return t.each(func(s core.PixelSink) error { return s.Pixels(p) })
}

func (t tee) End() error {
	return t.each(func(s core.PixelSink) error { return s.End() })
}

// Abort forwards to every sink that can be aborted.
func (t tee) Abort(err error) {
	for _, s := range t {
		if a, ok := s.(core.Aborter); ok {
			a.Abort(err)
		}
	}
}

var (
	_ core.PixelSink = (*Collector)(nil)
	_ core.PixelSink = tee(nil)
	_ core.Aborter   = tee(nil)
)
