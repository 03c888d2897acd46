// Package quantize provides the palette quantization stage: it reduces an
// rgb pixel stream to a palette plus one index byte per pixel.
package quantize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
	"github.com/Skryldev/imagestream/utils"
)

// DefaultColors is the palette size used when Options.Colors is zero.
const DefaultColors = 256

// Options configures a Quantizer.
type Options struct {
	Colors int  // 2-256; 0 = DefaultColors
	Dither bool // Floyd-Steinberg error diffusion
}

// Quantizer is the quantization stage.  The palette depends on every pixel,
// so the stage holds the whole session and emits the indexed format, the
// replayed events and the index bytes when the input ends.
type Quantizer struct {
	next core.PixelSink
	opts Options

	format core.PixelFormat
	ready  bool
	pixels *bytes.Buffer
	events []event
}

// event is a Meta or Frame event pinned to the pixel offset it preceded.
type event struct {
	offset int
	emit   func(core.PixelSink) error
}

// New returns a Quantizer feeding next.
func New(next core.PixelSink, opts Options) *Quantizer {
	if opts.Colors <= 0 || opts.Colors > 256 {
		opts.Colors = DefaultColors
	}
	return &Quantizer{next: next, opts: opts}
}

func (q *Quantizer) Format(f core.PixelFormat) error {
	if q.ready {
		return apperrors.Protocol("quantize", "second format declaration")
	}
	if f.ColorSpace != core.ColorSpaceRGB {
		return fmt.Errorf("quantize: input must be rgb, got %s", f.ColorSpace)
	}
	q.format = f
	q.ready = true
	q.pixels = utils.AcquireBuffer()
	return nil
}

func (q *Quantizer) Meta(m core.Metadata) error {
	q.events = append(q.events, event{offset: q.offset(), emit: func(s core.PixelSink) error { return s.Meta(m) }})
	return nil
}

func (q *Quantizer) Frame(f core.Frame) error {
	q.events = append(q.events, event{offset: q.offset(), emit: func(s core.PixelSink) error { return s.Frame(f) }})
	return nil
}

func (q *Quantizer) Pixels(p []byte) error {
	if !q.ready {
		return apperrors.Protocol("quantize", "pixel data before format declaration")
	}
	q.pixels.Write(p)
	return nil
}

func (q *Quantizer) End() error {
	if !q.ready {
		return apperrors.Protocol("quantize", "end of input before format declaration")
	}
	defer q.release()

	rgb := q.pixels.Bytes()
	if len(rgb)%3 != 0 {
		return apperrors.Protocol("quantize", "%d trailing bytes do not form a pixel", len(rgb)%3)
	}
	palette := BuildPalette(rgb, q.opts.Colors)
	indices := Map(rgb, q.format.Width, palette, q.opts.Dither)

	if err := q.next.Format(core.PixelFormat{
		Width:      q.format.Width,
		Height:     q.format.Height,
		ColorSpace: core.ColorSpaceIndexed,
		Palette:    palette,
	}); err != nil {
		return err
	}

	pos := 0
	for _, ev := range q.events {
		if ev.offset > pos {
			if err := q.next.Pixels(indices[pos:ev.offset]); err != nil {
				return err
			}
			pos = ev.offset
		}
		if err := ev.emit(q.next); err != nil {
			return err
		}
	}
	if pos < len(indices) {
		if err := q.next.Pixels(indices[pos:]); err != nil {
			return err
		}
	}
	return q.next.End()
}

// Abort releases the buffered pixels.
func (q *Quantizer) Abort(error) { q.release() }

// offset is the number of whole pixels buffered so far.
func (q *Quantizer) offset() int {
	if q.pixels == nil {
		return 0
	}
	return q.pixels.Len() / 3
}

func (q *Quantizer) release() {
	if q.pixels != nil {
		utils.ReleaseBuffer(q.pixels)
		q.pixels = nil
	}
	q.events = nil
}

// ── Palette mapping ───────────────────────────────────────────────────────────

// Map returns one palette index per rgb pixel.  Pixels are laid out in rows
// of width (a width of 0 is treated as a single row).
func Map(rgb []byte, width int, palette color.Palette, dither bool) []byte {
	n := len(rgb) / 3
	if n == 0 {
		return nil
	}
	if width <= 0 || width > n {
		width = n
	}
	rows := (n + width - 1) / width

	src := image.NewRGBA(image.Rect(0, 0, width, rows))
	for i := 0; i < n; i++ {
		src.Pix[i*4+0] = rgb[i*3+0]
		src.Pix[i*4+1] = rgb[i*3+1]
		src.Pix[i*4+2] = rgb[i*3+2]
		src.Pix[i*4+3] = 0xff
	}
	// Padding pixels of a partial last row stay transparent black and are
	// dropped below.

	dst := image.NewPaletted(src.Bounds(), palette)
	if dither {
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), src, image.Point{})
	} else {
		draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
	}
	return dst.Pix[:n]
}

var (
	_ core.PixelSink = (*Quantizer)(nil)
	_ core.Aborter   = (*Quantizer)(nil)
)
