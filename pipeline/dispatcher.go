package pipeline

import (
	"fmt"
	"time"

	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
)

// DecodeState is the lifecycle state of a Dispatcher.
type DecodeState int

const (
	Unbound DecodeState = iota
	Bound
	Streaming
	Flushed
	DecodeErrored
)

func (s DecodeState) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Streaming:
		return "streaming"
	case Flushed:
		return "flushed"
	case DecodeErrored:
		return "errored"
	}
	return fmt.Sprintf("decode_state(%d)", int(s))
}

// Dispatcher is a byte consumer that picks a decoder plugin by probing the
// first chunk written to it, then forwards every chunk to that plugin and
// relays the plugin's events to out.  One Dispatcher handles one stream; it
// is not safe for concurrent use.
type Dispatcher struct {
	reg  core.Registry
	out  core.PixelSink
	opts core.DecodeOptions
	s    settings

	state   DecodeState
	factory core.DecoderFactory
	plugin  core.Decoder
	format  *core.PixelFormat
	err     error

	start    time.Time
	bytesIn  int64
	bytesOut int64
}

// NewDispatcher returns an unbound Dispatcher that reports to out.
func NewDispatcher(reg core.Registry, out core.PixelSink, opts core.DecodeOptions, options ...Option) *Dispatcher {
	return &Dispatcher{
		reg:  reg,
		out:  out,
		opts: opts,
		s:    newSettings(options),
	}
}

// Write feeds a chunk of encoded bytes.  The first non-empty chunk selects
// the decoder; the choice is never revisited.
func (d *Dispatcher) Write(p []byte) (int, error) {
	switch d.state {
	case DecodeErrored:
		return 0, d.err
	case Flushed:
		return 0, apperrors.New(apperrors.CategoryInput, "decode.write", apperrors.ErrSessionClosed)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if d.state == Unbound {
		if err := d.bind(p); err != nil {
			return 0, d.fail(err)
		}
	}

	d.bytesIn += int64(len(p))
	if err := d.plugin.Write(p); err != nil {
		return 0, d.fail(apperrors.Plugin(d.factory.Name(), err))
	}
	return len(p), nil
}

// Close signals end of input.  It waits for the bound plugin to flush and
// then ends out.  Without a bound plugin (empty input) it ends out at once.
func (d *Dispatcher) Close() error {
	switch d.state {
	case DecodeErrored:
		return d.err
	case Flushed:
		return nil
	}
	if d.start.IsZero() {
		d.start = d.s.now()
	}

	if d.plugin != nil {
		if err := d.plugin.Flush(); err != nil {
			return d.fail(apperrors.Plugin(d.factory.Name(), err))
		}
	}
	if err := d.out.End(); err != nil {
		return d.fail(apperrors.Plugin("decode.sink", err))
	}

	d.state = Flushed
	d.s.logger.Debug("decode.flushed",
		"plugin", d.Plugin(),
		"bytes_in", d.bytesIn,
		"bytes_out", d.bytesOut,
	)
	d.s.finished(core.SessionDecode, d.Plugin(), d.stats(), nil, "")
	return nil
}

// CloseWithError tears the session down early.  The bound plugin and out
// are told through core.Aborter when they implement it.
func (d *Dispatcher) CloseWithError(err error) error {
	switch d.state {
	case DecodeErrored:
		return d.err
	case Flushed:
		return nil
	}
	if err == nil {
		err = apperrors.ErrSessionClosed
	}
	return d.fail(apperrors.Wrap(apperrors.CategoryInput, "decode.abort", err))
}

// Format returns the first pixel format the plugin declared.
func (d *Dispatcher) Format() (core.PixelFormat, bool) {
	if d.format == nil {
		return core.PixelFormat{}, false
	}
	return *d.format, true
}

// Plugin returns the name of the bound decoder, or "" before binding.
func (d *Dispatcher) Plugin() string {
	if d.factory == nil {
		return ""
	}
	return d.factory.Name()
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() DecodeState { return d.state }

// Err returns the terminal error, if any.
func (d *Dispatcher) Err() error { return d.err }

func (d *Dispatcher) bind(first []byte) error {
	d.start = d.s.now()
	factory, ok := d.reg.FindDecoder(first)
	if !ok {
		return apperrors.New(apperrors.CategoryUnsupportedFormat, "decode.probe", apperrors.ErrUnsupportedFormat)
	}
	plugin, err := factory.New(&relay{d: d}, d.opts)
	if err != nil {
		return apperrors.Plugin(factory.Name(), err)
	}

	d.factory = factory
	d.plugin = plugin
	d.state = Bound
	d.s.logger.Debug("decode.bound", "plugin", factory.Name())
	d.s.bound(core.SessionDecode, factory.Name())

	d.state = Streaming
	return nil
}

func (d *Dispatcher) fail(err error) error {
	if d.state == DecodeErrored {
		return d.err
	}
	d.state = DecodeErrored
	d.err = err

	if a, ok := d.plugin.(core.Aborter); ok {
		a.Abort(err)
	}
	if a, ok := d.out.(core.Aborter); ok {
		a.Abort(err)
	}
	d.s.logger.Error("decode.error",
		"plugin", d.Plugin(),
		"category", string(apperrors.CategoryOf(err)),
		"error", err.Error(),
	)
	d.s.finished(core.SessionDecode, d.Plugin(), d.stats(), err, string(apperrors.CategoryOf(err)))
	return err
}

func (d *Dispatcher) stats() core.SessionStats {
	var elapsed time.Duration
	if !d.start.IsZero() {
		elapsed = d.s.now().Sub(d.start)
	}
	return core.SessionStats{BytesIn: d.bytesIn, BytesOut: d.bytesOut, Duration: elapsed}
}

// ── Relay ─────────────────────────────────────────────────────────────────────

// relay is the sink handed to the bound plugin.  It forwards the four event
// kinds to the dispatcher's out unchanged, caching the format declaration and
// enforcing that it comes once and before any pixels.
type relay struct {
	d *Dispatcher
}

func (r *relay) Format(f core.PixelFormat) error {
	if r.d.state == DecodeErrored {
		return r.d.err
	}
	if r.d.format != nil {
		return apperrors.Protocol("decode.relay", "second format declaration (%s after %s)", f, *r.d.format)
	}
	if err := f.Validate(); err != nil {
		return apperrors.Protocol("decode.relay", "invalid format declaration: %v", err)
	}
	cached := f
	r.d.format = &cached
	r.d.s.logger.Debug("decode.format",
		"plugin", r.d.Plugin(),
		"width", f.Width,
		"height", f.Height,
		"color_space", string(f.ColorSpace),
	)
	return r.d.out.Format(f)
}

func (r *relay) Meta(m core.Metadata) error {
	if r.d.state == DecodeErrored {
		return r.d.err
	}
	return r.d.out.Meta(m)
}

func (r *relay) Frame(f core.Frame) error {
	if r.d.state == DecodeErrored {
		return r.d.err
	}
	return r.d.out.Frame(f)
}

func (r *relay) Pixels(p []byte) error {
	if r.d.state == DecodeErrored {
		return r.d.err
	}
	if r.d.format == nil {
		return apperrors.Protocol("decode.relay", "pixel data before format declaration")
	}
	r.d.bytesOut += int64(len(p))
	return r.d.out.Pixels(p)
}

// End is owned by the dispatcher; a plugin calling it is a defect.
func (r *relay) End() error {
	return apperrors.Protocol("decode.relay", "plugin ended the outer stream")
}

var _ core.PixelSink = (*relay)(nil)
