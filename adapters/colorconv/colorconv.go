// Package colorconv provides the color conversion stage: a pixel sink that
// rewrites 8-bit, straight-alpha pixels from the declared color space into a
// target color space and forwards them.
package colorconv

import (
	"fmt"
	"image/color"

	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
)

// Converter is the conversion stage.  Chunks need not be pixel aligned; a
// trailing partial pixel is carried over to the next chunk.
type Converter struct {
	target core.ColorSpace
	next   core.PixelSink

	src     core.PixelFormat
	srcSize int
	dstSize int
	rest    []byte
	buf     []byte
	ready   bool
}

// New returns a Converter emitting target into next.
func New(target core.ColorSpace, next core.PixelSink) *Converter {
	return &Converter{target: target, next: next}
}

// Supported reports whether the stage can convert from in to out.
func Supported(in, out core.ColorSpace) bool {
	if in == out {
		return true
	}
	return in.Channels() > 0 && out.Channels() > 0 && out != core.ColorSpaceIndexed
}

func (c *Converter) Format(f core.PixelFormat) error {
	if c.ready {
		return apperrors.Protocol("colorconv", "second format declaration")
	}
	if !Supported(f.ColorSpace, c.target) {
		return fmt.Errorf("colorconv: cannot convert %s to %s", f.ColorSpace, c.target)
	}
	if f.ColorSpace == core.ColorSpaceIndexed && c.target != core.ColorSpaceIndexed && len(f.Palette) == 0 {
		return fmt.Errorf("colorconv: indexed input without palette")
	}
	c.src = f
	c.srcSize = f.ColorSpace.Channels()
	c.dstSize = c.target.Channels()
	c.ready = true

	out := core.PixelFormat{Width: f.Width, Height: f.Height, ColorSpace: c.target}
	if c.target == f.ColorSpace {
		out.Palette = f.Palette
	}
	return c.next.Format(out)
}

func (c *Converter) Meta(m core.Metadata) error { return c.next.Meta(m) }
func (c *Converter) Frame(f core.Frame) error   { return c.next.Frame(f) }

func (c *Converter) Pixels(p []byte) error {
	if !c.ready {
		return apperrors.Protocol("colorconv", "pixel data before format declaration")
	}
	if c.src.ColorSpace == c.target {
		return c.next.Pixels(p)
	}

	if len(c.rest) > 0 {
		p = append(c.rest, p...)
		c.rest = nil
	}
	whole := len(p) / c.srcSize * c.srcSize
	if whole < len(p) {
		c.rest = append([]byte(nil), p[whole:]...)
	}
	if whole == 0 {
		return nil
	}

	n := whole / c.srcSize * c.dstSize
	if cap(c.buf) < n {
		c.buf = make([]byte, n)
	}
	dst := c.buf[:n]
	if err := Convert(dst, c.target, p[:whole], c.src.ColorSpace, c.src.Palette); err != nil {
		return err
	}
	return c.next.Pixels(dst)
}

func (c *Converter) End() error {
	if len(c.rest) > 0 {
		return apperrors.Protocol("colorconv", "%d trailing bytes do not form a pixel", len(c.rest))
	}
	return c.next.End()
}

// ── Pixel arithmetic ──────────────────────────────────────────────────────────

// Convert rewrites whole pixels of src (in color space from) into dst (in
// color space to).  dst must hold exactly len(src)/from.Channels() pixels.
func Convert(dst []byte, to core.ColorSpace, src []byte, from core.ColorSpace, palette color.Palette) error {
	sn, dn := from.Channels(), to.Channels()
	if sn == 0 || dn == 0 || to == core.ColorSpaceIndexed {
		return fmt.Errorf("colorconv: cannot convert %s to %s", from, to)
	}
	if len(src)%sn != 0 || len(dst) != len(src)/sn*dn {
		return fmt.Errorf("colorconv: buffer size mismatch (%d %s bytes into %d %s bytes)", len(src), from, len(dst), to)
	}

	for i, j := 0, 0; i < len(src); i, j = i+sn, j+dn {
		px, err := unpack(src[i:i+sn], from, palette)
		if err != nil {
			return err
		}
		pack(dst[j:j+dn], to, px)
	}
	return nil
}

// Luma returns the Rec. 709 luminance of an 8-bit rgb triple, truncated.
func Luma(r, g, b uint8) uint8 {
	return uint8((2126*uint32(r) + 7152*uint32(g) + 722*uint32(b)) / 10000)
}

func unpack(p []byte, cs core.ColorSpace, palette color.Palette) (color.NRGBA, error) {
	switch cs {
	case core.ColorSpaceRGB:
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: 0xff}, nil
	case core.ColorSpaceRGBA:
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]}, nil
	case core.ColorSpaceGray:
		return color.NRGBA{R: p[0], G: p[0], B: p[0], A: 0xff}, nil
	case core.ColorSpaceGrayA:
		return color.NRGBA{R: p[0], G: p[0], B: p[0], A: p[1]}, nil
	case core.ColorSpaceCMYK:
		r, g, b := color.CMYKToRGB(p[0], p[1], p[2], p[3])
		return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
	case core.ColorSpaceIndexed:
		if int(p[0]) >= len(palette) {
			return color.NRGBA{}, fmt.Errorf("colorconv: palette index %d out of range (%d entries)", p[0], len(palette))
		}
		return color.NRGBAModel.Convert(palette[p[0]]).(color.NRGBA), nil
	}
	return color.NRGBA{}, fmt.Errorf("colorconv: unknown color space %s", cs)
}

func pack(dst []byte, cs core.ColorSpace, c color.NRGBA) {
	switch cs {
	case core.ColorSpaceRGB:
		dst[0], dst[1], dst[2] = c.R, c.G, c.B
	case core.ColorSpaceRGBA:
		dst[0], dst[1], dst[2], dst[3] = c.R, c.G, c.B, c.A
	case core.ColorSpaceGray:
		dst[0] = Luma(c.R, c.G, c.B)
	case core.ColorSpaceGrayA:
		dst[0], dst[1] = Luma(c.R, c.G, c.B), c.A
	case core.ColorSpaceCMYK:
		dst[0], dst[1], dst[2], dst[3] = color.RGBToCMYK(c.R, c.G, c.B)
	}
}

var _ core.PixelSink = (*Converter)(nil)
