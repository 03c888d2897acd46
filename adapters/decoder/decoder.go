// Package decoder provides buffered decoder plugins for the raster formats
// readable with the standard library and golang.org/x/image.
//
// The underlying decoders need the whole file, so each plugin collects the
// stream in a pooled buffer and decodes on Flush.  Pixel data is then
// emitted in chunks of DecodeOptions.ChunkSize.
package decoder

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/Skryldev/imagestream/adapters/raster"
	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
	"github.com/Skryldev/imagestream/utils"
)

// Decoded is the result of decoding a whole file.
type Decoded struct {
	// Frames holds every frame at canvas size; single-image formats have one.
	Frames []image.Image
	// Delays is parallel to Frames; nil for still images.
	Delays []time.Duration
	// Meta is merged into the metadata event.
	Meta core.Metadata
}

// Factory is a core.DecoderFactory for one buffered format.
type Factory struct {
	name   string
	mime   string
	config func(io.Reader) (image.Config, error)
	decode func([]byte) (*Decoded, error)
}

// New returns a Factory for a single-image format decoded by decode.  It is
// the extension point for formats not built in.
func New(name, mime string, decode func(io.Reader) (image.Image, error), config func(io.Reader) (image.Config, error)) *Factory {
	return &Factory{
		name:   name,
		mime:   mime,
		config: config,
		decode: single(decode),
	}
}

// NewFunc returns a Factory for a format whose decoder works on the whole
// file and may return several frames.
func NewFunc(name, mime string, decode func([]byte) (*Decoded, error)) *Factory {
	return &Factory{name: name, mime: mime, decode: decode}
}

func single(decode func(io.Reader) (image.Image, error)) func([]byte) (*Decoded, error) {
	return func(data []byte) (*Decoded, error) {
		img, err := decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return &Decoded{Frames: []image.Image{img}}, nil
	}
}

func (f *Factory) Name() string { return f.name }

// MIME returns the format key the factory decodes.
func (f *Factory) MIME() string { return f.mime }

// Probe sniffs the leading bytes with utils.DetectFormat.
func (f *Factory) Probe(first []byte) bool {
	return utils.DetectFormat(first) == f.mime
}

func (f *Factory) New(out core.PixelSink, opts core.DecodeOptions) (core.Decoder, error) {
	return &buffered{f: f, out: out, opts: opts, buf: utils.AcquireBuffer()}, nil
}

// buffered is the per-stream decoder instance.
type buffered struct {
	f    *Factory
	out  core.PixelSink
	opts core.DecodeOptions
	buf  *bytes.Buffer
}

func (d *buffered) Write(chunk []byte) error {
	if d.buf == nil {
		return apperrors.ErrSessionClosed
	}
	d.buf.Write(chunk)
	return nil
}

func (d *buffered) Flush() error {
	if d.buf == nil {
		return apperrors.ErrSessionClosed
	}
	defer d.release()

	data := d.buf.Bytes()
	if len(data) == 0 {
		return apperrors.ErrEmptyInput
	}
	if d.f.config != nil && d.opts.MaxPixels > 0 {
		cfg, err := d.f.config(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%s: %w: %v", d.f.name, apperrors.ErrCorrupt, err)
		}
		if err := d.checkSize(cfg.Width, cfg.Height); err != nil {
			return err
		}
	}

	decoded, err := d.f.decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", d.f.name, apperrors.ErrCorrupt, err)
	}
	if len(decoded.Frames) == 0 {
		return fmt.Errorf("%s: %w: no frames", d.f.name, apperrors.ErrCorrupt)
	}
	return d.emit(decoded)
}

// Abort drops the buffered input.
func (d *buffered) Abort(error) { d.release() }

func (d *buffered) release() {
	if d.buf != nil {
		utils.ReleaseBuffer(d.buf)
		d.buf = nil
	}
}

func (d *buffered) checkSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%s: %w: %dx%d", d.f.name, apperrors.ErrInvalidDimensions, w, h)
	}
	if d.opts.MaxPixels > 0 && int64(w)*int64(h) > d.opts.MaxPixels {
		return fmt.Errorf("%s: %w: %dx%d exceeds %d pixels", d.f.name, apperrors.ErrInvalidDimensions, w, h, d.opts.MaxPixels)
	}
	return nil
}

func (d *buffered) emit(decoded *Decoded) error {
	format, frames := pack(decoded.Frames)
	if err := d.checkSize(format.Width, format.Height); err != nil {
		return err
	}
	if err := d.out.Format(format); err != nil {
		return err
	}

	meta := core.Metadata{"format": d.f.name}
	maps.Copy(meta, decoded.Meta)
	if err := d.out.Meta(meta); err != nil {
		return err
	}

	w := &utils.ChunkedWriter{Emit: d.out.Pixels, ChunkSize: d.opts.ChunkSize}
	for i, pix := range frames {
		frame := core.Frame{Index: i}
		if i < len(decoded.Delays) {
			frame.Delay = decoded.Delays[i]
		}
		if err := d.out.Frame(frame); err != nil {
			return err
		}
		if _, err := w.Write(pix); err != nil {
			return err
		}
	}
	return nil
}

// pack converts every frame to one shared pixel format.  Frames that agree
// on color space and palette keep their natural layout; otherwise all of
// them are emitted as rgba.
func pack(images []image.Image) (core.PixelFormat, [][]byte) {
	format, first := raster.FromImage(images[0])
	frames := [][]byte{first}
	for _, img := range images[1:] {
		f, pix := raster.FromImage(img)
		if !sameLayout(format, f) {
			return packNRGBA(images)
		}
		frames = append(frames, pix)
	}
	return format, frames
}

func sameLayout(a, b core.PixelFormat) bool {
	return a.Width == b.Width && a.Height == b.Height &&
		a.ColorSpace == b.ColorSpace && slices.Equal(a.Palette, b.Palette)
}

func packNRGBA(images []image.Image) (core.PixelFormat, [][]byte) {
	b := images[0].Bounds()
	format := core.PixelFormat{Width: b.Dx(), Height: b.Dy(), ColorSpace: core.ColorSpaceRGBA}
	frames := make([][]byte, len(images))
	for i, img := range images {
		frames[i] = raster.NRGBA(img)
	}
	return format, frames
}

var (
	_ core.DecoderFactory = (*Factory)(nil)
	_ core.Decoder        = (*buffered)(nil)
	_ core.Aborter        = (*buffered)(nil)
)
