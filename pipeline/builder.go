package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/Skryldev/imagestream/adapters/colorconv"
	"github.com/Skryldev/imagestream/adapters/quantize"
	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
)

// EncodeState is the lifecycle state of a Builder.
type EncodeState int

const (
	Constructed EncodeState = iota
	AwaitingFormat
	Negotiated
	EncodeStreaming
	Ended
	EncodeErrored
)

func (s EncodeState) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case AwaitingFormat:
		return "awaiting_format"
	case Negotiated:
		return "negotiated"
	case EncodeStreaming:
		return "streaming"
	case Ended:
		return "ended"
	case EncodeErrored:
		return "errored"
	}
	return fmt.Sprintf("encode_state(%d)", int(s))
}

// Builder is a pixel sink that drives one encoder plugin.  The plugin is
// chosen when the Builder is created; the stages in front of it are chosen
// when the upstream format arrives.  One Builder handles one stream; it is
// not safe for concurrent use.
type Builder struct {
	key     string
	factory core.EncoderFactory
	encoder core.Encoder
	opts    core.EncodeOptions
	s       settings
	out     *countingWriter

	state   EncodeState
	input   core.PixelSink
	tail    *guard
	stages  []*guard
	plan    *core.Plan
	format  *core.PixelFormat
	pending []func(core.PixelSink) error
	err     error

	start   time.Time
	bytesIn int64
}

// NewBuilder resolves the encoder registered under key and instantiates it,
// writing encoded bytes to out.  An unknown key fails here, before any
// pixel data can be written.
func NewBuilder(reg core.Registry, key string, out io.Writer, opts core.EncodeOptions, options ...Option) (*Builder, error) {
	factory, ok := reg.FindEncoder(key)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryUnsupportedEncoder, "encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedEncoder, key))
	}

	b := &Builder{
		key:     key,
		factory: factory,
		opts:    opts,
		s:       newSettings(options),
		out:     &countingWriter{w: out},
		state:   Constructed,
	}
	b.start = b.s.now()

	enc, err := factory.New(b.out, opts)
	if err != nil {
		return nil, apperrors.Plugin(factory.Name(), err)
	}
	b.encoder = enc
	b.s.logger.Debug("encode.bound", "plugin", factory.Name(), "format", key)
	b.s.bound(core.SessionEncode, factory.Name())

	b.state = AwaitingFormat
	return b, nil
}

// Format accepts the upstream declaration, negotiates the color space and
// assembles the stage chain.  It may be called once.
func (b *Builder) Format(f core.PixelFormat) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.state != AwaitingFormat {
		return b.fail(apperrors.Protocol("encode.format", "second format declaration (%s)", f))
	}
	if err := f.Validate(); err != nil {
		return b.fail(apperrors.Protocol("encode.format", "invalid format declaration: %v", err))
	}

	plan := Negotiate(f.ColorSpace, supportedColorSpaces(b.encoder))
	declared := f
	b.format = &declared
	b.plan = &plan
	b.input = b.assemble(plan)
	b.state = Negotiated

	b.s.logger.Debug("encode.negotiated",
		"plugin", b.factory.Name(),
		"input", string(plan.Input),
		"output", string(plan.Output),
		"shape", plan.Shape.String(),
	)
	b.s.negotiated(b.factory.Name(), f, plan)

	if err := b.input.Format(f); err != nil {
		return b.fail(err)
	}
	for _, replay := range b.pending {
		if err := replay(b.input); err != nil {
			return b.fail(err)
		}
	}
	b.pending = nil
	b.state = EncodeStreaming
	return nil
}

// Meta forwards a metadata event.  Events that arrive before the format are
// held until the chain exists.
func (b *Builder) Meta(m core.Metadata) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.input == nil {
		b.pending = append(b.pending, func(s core.PixelSink) error { return s.Meta(m) })
		return nil
	}
	if err := b.input.Meta(m); err != nil {
		return b.fail(err)
	}
	return nil
}

// Frame forwards a frame event, held like Meta when early.
func (b *Builder) Frame(f core.Frame) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.input == nil {
		b.pending = append(b.pending, func(s core.PixelSink) error { return s.Frame(f) })
		return nil
	}
	if err := b.input.Frame(f); err != nil {
		return b.fail(err)
	}
	return nil
}

// Pixels writes pixel data through the assembled chain.
func (b *Builder) Pixels(p []byte) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.input == nil {
		return b.fail(apperrors.Protocol("encode.pixels", "pixel data before format declaration"))
	}
	b.bytesIn += int64(len(p))
	if err := b.input.Pixels(p); err != nil {
		return b.fail(err)
	}
	return nil
}

// End ends the input side of the chain and returns once the encoder has
// flushed its output.
func (b *Builder) End() error {
	if err := b.check(); err != nil {
		return err
	}
	if b.input == nil {
		// Empty session: nothing to encode, so the encoder is dropped unused.
		if a, ok := b.encoder.(core.Aborter); ok {
			a.Abort(apperrors.ErrEmptyInput)
		}
		b.pending = nil
	} else if err := b.input.End(); err != nil {
		return b.fail(err)
	}

	b.state = Ended
	stats := b.stats()
	b.s.logger.Debug("encode.ended",
		"plugin", b.factory.Name(),
		"bytes_in", stats.BytesIn,
		"bytes_out", stats.BytesOut,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	b.s.finished(core.SessionEncode, b.factory.Name(), stats, nil, "")
	return nil
}

// Abort tears the session down; it implements core.Aborter so an upstream
// Dispatcher can propagate its own failure.
func (b *Builder) Abort(err error) {
	if b.state == Ended || b.state == EncodeErrored {
		return
	}
	if err == nil {
		err = apperrors.ErrSessionClosed
	}
	b.fail(apperrors.Wrap(apperrors.CategoryInput, "encode.abort", err))
}

// Plan returns the negotiation outcome once the format has arrived.
func (b *Builder) Plan() (core.Plan, bool) {
	if b.plan == nil {
		return core.Plan{}, false
	}
	return *b.plan, true
}

// OutputFormat returns the format the encoder itself received, which
// reflects any conversion or quantization in front of it.
func (b *Builder) OutputFormat() (core.PixelFormat, bool) {
	if b.tail == nil || b.tail.format == nil {
		return core.PixelFormat{}, false
	}
	return *b.tail.format, true
}

// InputFormat returns the declaration received from upstream.
func (b *Builder) InputFormat() (core.PixelFormat, bool) {
	if b.format == nil {
		return core.PixelFormat{}, false
	}
	return *b.format, true
}

// Plugin returns the encoder name.
func (b *Builder) Plugin() string { return b.factory.Name() }

// Key returns the format key the encoder was resolved with.
func (b *Builder) Key() string { return b.key }

// State returns the current lifecycle state.
func (b *Builder) State() EncodeState { return b.state }

// Err returns the terminal error, if any.
func (b *Builder) Err() error { return b.err }

// BytesOut returns the number of encoded bytes written so far.
func (b *Builder) BytesOut() int64 { return b.out.n }

// assemble builds the chain sink-first: the encoder, then the quantizer,
// then the converter, each stage wrapping the next.
func (b *Builder) assemble(plan core.Plan) core.PixelSink {
	b.tail = &guard{name: b.factory.Name(), next: b.encoder}
	var head core.PixelSink = b.tail

	switch plan.Shape {
	case core.ConvertOnly:
		b.stages = append(b.stages, &guard{name: "colorconv", next: colorconv.New(plan.Output, head)})
	case core.ConvertThenQuantize:
		b.stages = append(b.stages, &guard{name: "quantize", next: quantize.New(head, quantize.Options{
			Colors: b.opts.Colors,
			Dither: b.opts.Dithering(),
		})})
		b.stages = append(b.stages, &guard{name: "colorconv", next: colorconv.New(core.ColorSpaceRGB, b.stages[0])})
	}
	if n := len(b.stages); n > 0 {
		head = b.stages[n-1]
	}
	return head
}

func (b *Builder) check() error {
	switch b.state {
	case EncodeErrored:
		return b.err
	case Ended:
		return apperrors.New(apperrors.CategoryInput, "encode", apperrors.ErrSessionClosed)
	}
	return nil
}

func (b *Builder) fail(err error) error {
	if b.state == EncodeErrored {
		return b.err
	}
	b.state = EncodeErrored
	b.err = err
	for _, g := range b.stages {
		g.Abort(err)
	}
	if a, ok := b.encoder.(core.Aborter); ok {
		a.Abort(err)
	}
	b.s.logger.Error("encode.error",
		"plugin", b.factory.Name(),
		"category", string(apperrors.CategoryOf(err)),
		"error", err.Error(),
	)
	b.s.finished(core.SessionEncode, b.factory.Name(), b.stats(), err, string(apperrors.CategoryOf(err)))
	return err
}

func (b *Builder) stats() core.SessionStats {
	return core.SessionStats{
		BytesIn:  b.bytesIn,
		BytesOut: b.out.n,
		Duration: b.s.now().Sub(b.start),
	}
}

// ── Chain plumbing ────────────────────────────────────────────────────────────

// guard attributes errors to the stage or encoder that raised them and
// records the format that passed through.
type guard struct {
	name   string
	next   core.PixelSink
	format *core.PixelFormat
}

func (g *guard) Format(f core.PixelFormat) error {
	seen := f
	g.format = &seen
	return apperrors.Plugin(g.name, g.next.Format(f))
}

func (g *guard) Meta(m core.Metadata) error { return apperrors.Plugin(g.name, g.next.Meta(m)) }
func (g *guard) Frame(f core.Frame) error   { return apperrors.Plugin(g.name, g.next.Frame(f)) }
func (g *guard) Pixels(p []byte) error      { return apperrors.Plugin(g.name, g.next.Pixels(p)) }
func (g *guard) End() error                 { return apperrors.Plugin(g.name, g.next.End()) }

// Abort releases the stage when it holds resources.
func (g *guard) Abort(err error) {
	if a, ok := g.next.(core.Aborter); ok {
		a.Abort(err)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

var (
	_ core.PixelSink = (*Builder)(nil)
	_ core.Aborter   = (*Builder)(nil)
	_ core.Aborter   = (*guard)(nil)
)
