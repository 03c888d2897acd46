// Package imagestream transcodes images as streams: encoded bytes go into
// a decoder chosen by sniffing, pixel events come out, and an encoder
// chosen by format key turns them back into bytes.  Color conversion and
// quantization are inserted between the two when the encoder needs them.
package imagestream

import (
	"context"
	"io"
	"maps"

	"github.com/Skryldev/imagestream/adapters/decoder"
	"github.com/Skryldev/imagestream/adapters/encoder"
	"github.com/Skryldev/imagestream/adapters/pixraw"
	"github.com/Skryldev/imagestream/config"
	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
	"github.com/Skryldev/imagestream/pipeline"
	"github.com/Skryldev/imagestream/utils"
)

// Format keys of the built-in codecs.
const (
	PNG    = utils.MIMEPNG
	JPEG   = utils.MIMEJPEG
	GIF    = utils.MIMEGIF
	BMP    = utils.MIMEBMP
	TIFF   = utils.MIMETIFF
	WebP   = utils.MIMEWebP
	Pixraw = utils.MIMEPixraw
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Builtins returns the codecs backed by the standard library,
// golang.org/x/image and the pixraw container.  Decoders come in probe
// order.  WebP is decode-only; adapters/vips adds an encoder.
func Builtins(defaultQuality int) []core.Codec {
	return []core.Codec{
		{Format: Pixraw, Decoder: pixraw.NewDecoder(), Encoder: pixraw.NewEncoder()},
		{Format: PNG, Decoder: decoder.NewPNG(), Encoder: encoder.NewPNG()},
		{Format: JPEG, Decoder: decoder.NewJPEG(), Encoder: encoder.NewJPEG(defaultQuality)},
		{Format: GIF, Decoder: decoder.NewGIF(), Encoder: encoder.NewGIF()},
		{Format: BMP, Decoder: decoder.NewBMP(), Encoder: encoder.NewBMP()},
		{Format: TIFF, Decoder: decoder.NewTIFF(), Encoder: encoder.NewTIFF()},
		{Format: WebP, Decoder: decoder.NewWebP()},
	}
}

// RegisterBuiltins registers Builtins with the default JPEG quality.
func RegisterBuiltins(reg *core.DefaultRegistry) {
	for _, c := range Builtins(encoder.DefaultQuality) {
		reg.Use(c)
	}
}

// ── Processor ─────────────────────────────────────────────────────────────────

// Processor is the primary entry point.  It owns a registry preloaded with
// the built-in codecs and applies its configuration to every session.
// Sessions are independent, so one Processor may serve many goroutines.
type Processor struct {
	reg     *core.DefaultRegistry
	cfg     config.Config
	logger  core.Logger
	hooks   []core.Hook
	metrics core.MetricsCollector
}

// New creates a fully wired Processor.  Pass a custom config.Config to
// override defaults.
func New(cfg config.Config) *Processor {
	reg := core.NewRegistry()
	for _, c := range Builtins(cfg.DefaultQuality) {
		reg.Use(c)
	}
	return &Processor{reg: reg, cfg: cfg, logger: core.NopLogger{}}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l core.Logger) { p.logger = l }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m core.MetricsCollector) { p.metrics = m }

// AddHook registers an observer for session events.
func (p *Processor) AddHook(h core.Hook) { p.hooks = append(p.hooks, h) }

// Use registers a codec.  Decoders added later are probed after the
// built-ins; an encoder replaces whatever was registered under its key.
func (p *Processor) Use(c core.Codec) { p.reg.Use(c) }

// Registry exposes the processor's registry.
func (p *Processor) Registry() *core.DefaultRegistry { return p.reg }

// Config returns the configuration the processor was built with.
func (p *Processor) Config() config.Config { return p.cfg }

// Decode streams r through a dispatcher that reports to sink.  sink sees
// End on success; on failure it is aborted when it implements core.Aborter.
func (p *Processor) Decode(ctx context.Context, r io.Reader, sink core.PixelSink) error {
	d := pipeline.NewDispatcher(p.reg, sink, p.cfg.DecodeOptions(), p.options()...)
	if p.cfg.MaxInputBytes > 0 {
		r = &utils.LimitedReader{R: r, Max: p.cfg.MaxInputBytes}
	}
	return pipeline.Copy(ctx, d, r, p.cfg.ChunkSize)
}

// Encode returns a pixel sink that encodes to w with the encoder registered
// under key (a MIME type or a file extension).  Zero fields of opts take
// the configured defaults.
func (p *Processor) Encode(key string, w io.Writer, opts core.EncodeOptions) (*pipeline.Builder, error) {
	return pipeline.NewBuilder(p.reg, utils.MIMEFor(key), w, p.withDefaults(opts), p.options()...)
}

// Transcode decodes r and re-encodes it to w as key.
func (p *Processor) Transcode(ctx context.Context, r io.Reader, w io.Writer, key string, opts core.EncodeOptions) error {
	b, err := p.Encode(key, w, opts)
	if err != nil {
		return err
	}
	return p.Decode(ctx, r, b)
}

// Info describes a decoded stream without keeping its pixels.
type Info struct {
	Plugin string
	Format core.PixelFormat
	Meta   core.Metadata
	Frames int
	Bytes  int64
}

// Inspect decodes r and reports what it contains.
func (p *Processor) Inspect(ctx context.Context, r io.Reader) (*Info, error) {
	sink := &pipeline.Collector{DiscardPixels: true}
	d := pipeline.NewDispatcher(p.reg, sink, p.cfg.DecodeOptions(), p.options()...)
	if err := pipeline.Copy(ctx, d, r, p.cfg.ChunkSize); err != nil {
		return nil, err
	}
	info := &Info{
		Plugin: d.Plugin(),
		Format: sink.Declared,
		Meta:   MergeMeta(sink.Metas),
		Frames: len(sink.Frames),
		Bytes:  sink.PixelBytes,
	}
	if info.Frames == 0 && info.Bytes > 0 {
		info.Frames = 1
	}
	return info, nil
}

// MergeMeta folds metadata events into one map; later keys win.
func MergeMeta(events []core.Metadata) core.Metadata {
	if len(events) == 0 {
		return nil
	}
	out := core.Metadata{}
	for _, m := range events {
		maps.Copy(out, m)
	}
	return out
}

func (p *Processor) options() []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithLogger(p.logger),
		pipeline.WithHooks(p.hooks...),
		pipeline.WithMetrics(p.metrics),
	}
}

func (p *Processor) withDefaults(opts core.EncodeOptions) core.EncodeOptions {
	def := p.cfg.EncodeOptions()
	if opts.Quality == 0 {
		opts.Quality = def.Quality
	}
	if opts.Compression == "" {
		opts.Compression = def.Compression
	}
	if opts.Colors == 0 {
		opts.Colors = def.Colors
	}
	if opts.Dither == nil {
		opts.Dither = def.Dither
	}
	return opts
}

// ── Package-level API ─────────────────────────────────────────────────────────

func init() { RegisterBuiltins(core.Default) }

// Use registers a codec with core.Default.
func Use(c core.Codec) { core.Default.Use(c) }

// Decode streams r into sink using core.Default and default options.
func Decode(ctx context.Context, r io.Reader, sink core.PixelSink) error {
	d := pipeline.NewDispatcher(core.Default, sink, core.DecodeOptions{})
	return pipeline.Copy(ctx, d, r, 0)
}

// Encode returns a sink encoding to w with the core.Default encoder
// registered under key.
func Encode(key string, w io.Writer, opts core.EncodeOptions) (*pipeline.Builder, error) {
	return pipeline.NewBuilder(core.Default, utils.MIMEFor(key), w, opts)
}

// IsUnsupported reports whether err means no plugin could handle the input
// or the requested output.
func IsUnsupported(err error) bool {
	return apperrors.IsCategory(err, apperrors.CategoryUnsupportedFormat) ||
		apperrors.IsCategory(err, apperrors.CategoryUnsupportedEncoder)
}

var _ core.Aborter = (*pipeline.Builder)(nil)
