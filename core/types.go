package core

import (
	"fmt"
	"image/color"
	"strings"
	"time"
)

// ColorSpace is the channel layout tag of a pixel stream.  Plugins may
// define their own tags; a tag ending in AlphaMarker carries an alpha channel.
type ColorSpace string

const (
	ColorSpaceRGB     ColorSpace = "rgb"
	ColorSpaceRGBA    ColorSpace = "rgba"
	ColorSpaceGray    ColorSpace = "gray"
	ColorSpaceGrayA   ColorSpace = "graya"
	ColorSpaceCMYK    ColorSpace = "cmyk"
	ColorSpaceIndexed ColorSpace = "indexed"
)

// AlphaMarker is the suffix that marks a color space as carrying alpha.
const AlphaMarker = "a"

// HasAlpha reports whether cs carries an alpha channel.
func (cs ColorSpace) HasAlpha() bool {
	return strings.HasSuffix(string(cs), AlphaMarker)
}

// Channels returns the number of bytes per pixel for the built-in color
// spaces, or 0 for unknown (plugin-defined) tags.
func (cs ColorSpace) Channels() int {
	switch cs {
	case ColorSpaceGray, ColorSpaceIndexed:
		return 1
	case ColorSpaceGrayA:
		return 2
	case ColorSpaceRGB:
		return 3
	case ColorSpaceRGBA, ColorSpaceCMYK:
		return 4
	}
	return 0
}

// PixelFormat is the declaration a pixel producer emits once per session,
// before any pixel data.
type PixelFormat struct {
	Width      int
	Height     int
	ColorSpace ColorSpace
	// Palette is set only for ColorSpaceIndexed streams.
	Palette color.Palette
}

// FrameSize returns the byte length of one full frame, or 0 when the color
// space is unknown.
func (f PixelFormat) FrameSize() int {
	return f.Width * f.Height * f.ColorSpace.Channels()
}

// Validate checks the declaration for obvious defects.
func (f PixelFormat) Validate() error {
	if f.Width < 0 || f.Height < 0 {
		return fmt.Errorf("negative dimensions %dx%d", f.Width, f.Height)
	}
	if f.ColorSpace == "" {
		return fmt.Errorf("empty color space")
	}
	return nil
}

func (f PixelFormat) String() string {
	return fmt.Sprintf("%dx%d %s", f.Width, f.Height, f.ColorSpace)
}

// Metadata is an auxiliary metadata event (EXIF fields, container tags,
// loop counts, ...).  Keys are plugin-defined.
type Metadata map[string]any

// Frame announces the start of a frame; the pixel data that follows belongs
// to it until the next Frame event.
type Frame struct {
	Index int
	Delay time.Duration
	// Meta carries per-frame plugin data.
	Meta Metadata
}

// DecodeOptions is handed to a decoder plugin when it is instantiated.
type DecodeOptions struct {
	// MaxPixels rejects images whose width*height exceeds it; 0 = no limit.
	MaxPixels int64
	// ChunkSize is the preferred size of emitted pixel chunks.
	ChunkSize int
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality  int  // 1-100; 0 = use encoder default
	Lossless bool // WebP lossless / deflate TIFF
	// StripMetadata drops metadata events instead of embedding them.
	StripMetadata bool
	// ColorSpaces, when set, restricts (and orders) the color spaces an
	// encoder advertises.  Encoders intersect it with what they can write.
	ColorSpaces []ColorSpace
	// Compression selects the payload compression of container formats
	// ("none", "lz4", "zstd").
	Compression string
	// Colors and Dither configure the quantization stage.  A nil Dither
	// leaves the choice to the caller's defaults.
	Colors int
	Dither *bool
}

// Dithering reports whether Dither is set and true.
func (o EncodeOptions) Dithering() bool { return o.Dither != nil && *o.Dither }

// ── Negotiation outcome ───────────────────────────────────────────────────────

// Shape is the topology of the stage chain inserted before an encoder.
type Shape int

const (
	// Direct feeds the encoder without intermediate stages.
	Direct Shape = iota
	// ConvertOnly inserts one color conversion stage.
	ConvertOnly
	// ConvertThenQuantize converts to rgb and then quantizes to indexed.
	ConvertThenQuantize
)

func (s Shape) String() string {
	switch s {
	case Direct:
		return "direct"
	case ConvertOnly:
		return "convert"
	case ConvertThenQuantize:
		return "convert+quantize"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// Stages returns the number of intermediate stages of the shape.
func (s Shape) Stages() int {
	switch s {
	case ConvertOnly:
		return 1
	case ConvertThenQuantize:
		return 2
	}
	return 0
}

// Plan is the result of color space negotiation.
type Plan struct {
	Shape  Shape
	Input  ColorSpace
	Output ColorSpace
}

func (p Plan) String() string {
	return fmt.Sprintf("%s->%s (%s)", p.Input, p.Output, p.Shape)
}

// ── Session observation ───────────────────────────────────────────────────────

// SessionKind distinguishes decode and encode sessions.
type SessionKind string

const (
	SessionDecode SessionKind = "decode"
	SessionEncode SessionKind = "encode"
)

// SessionStats summarizes a finished session.
type SessionStats struct {
	BytesIn  int64
	BytesOut int64
	Duration time.Duration
}

// Codec is the registration surface: any subset of a decoder and an encoder
// with its format key.
type Codec struct {
	Decoder DecoderFactory
	Encoder EncoderFactory
	Format  string
}
