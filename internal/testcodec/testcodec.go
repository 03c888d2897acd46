// Package testcodec provides small in-memory plugins for exercising the
// dispatcher and builder.
//
// The decoder understands a toy stream driven by control bytes:
//
//	0xff w h cs   format declaration (cs 0 = rgb, 1 = gray); also the probe
//	0xfe b        metadata event {"test": b}, only right after the format
//	0xfd          decoding error
//	0xfc b        frame event with Meta {"d": b}, at the start of a chunk
//
// Everything else is pixel data.
package testcodec

import (
	"errors"
	"io"

	"github.com/Skryldev/imagestream/core"
)

const (
	MarkFormat = 0xff
	MarkMeta   = 0xfe
	MarkError  = 0xfd
	MarkFrame  = 0xfc
)

// ErrDecode is returned for the 0xfd control byte.
var ErrDecode = errors.New("decoding error")

var colorSpaces = []core.ColorSpace{core.ColorSpaceRGB, core.ColorSpaceGray}

// DecoderFactory builds toy decoders.  Label distinguishes otherwise equal
// factories in ordering tests.
type DecoderFactory struct {
	Label string
	// Marker overrides the probe byte; 0 means MarkFormat.
	Marker byte
	// Opts records the options of the last instance.
	Opts *core.DecodeOptions
}

func (f *DecoderFactory) Name() string {
	if f.Label != "" {
		return f.Label
	}
	return "test"
}

func (f *DecoderFactory) marker() byte {
	if f.Marker != 0 {
		return f.Marker
	}
	return MarkFormat
}

func (f *DecoderFactory) Probe(first []byte) bool {
	return len(first) > 0 && first[0] == f.marker()
}

func (f *DecoderFactory) New(out core.PixelSink, opts core.DecodeOptions) (core.Decoder, error) {
	if f.Opts != nil {
		*f.Opts = opts
	}
	return &Decoder{out: out}, nil
}

// Decoder is the toy decoder instance.
type Decoder struct {
	out       core.PixelSink
	formatted bool
	Flushed   bool
}

func (d *Decoder) Write(chunk []byte) error {
	if !d.formatted {
		if len(chunk) < 4 {
			return errors.New("short header")
		}
		cs := core.ColorSpaceRGB
		if int(chunk[3]) < len(colorSpaces) {
			cs = colorSpaces[chunk[3]]
		}
		if err := d.out.Format(core.PixelFormat{Width: int(chunk[1]), Height: int(chunk[2]), ColorSpace: cs}); err != nil {
			return err
		}
		d.formatted = true
		chunk = chunk[4:]

		if len(chunk) >= 2 && chunk[0] == MarkMeta {
			if err := d.out.Meta(core.Metadata{"test": int(chunk[1])}); err != nil {
				return err
			}
			chunk = chunk[2:]
		}
	}

	if len(chunk) > 0 && chunk[0] == MarkError {
		return ErrDecode
	}
	if len(chunk) >= 2 && chunk[0] == MarkFrame {
		if err := d.out.Frame(core.Frame{Meta: core.Metadata{"d": int(chunk[1])}}); err != nil {
			return err
		}
		chunk = chunk[2:]
	}
	if len(chunk) == 0 {
		return nil
	}
	return d.out.Pixels(chunk)
}

func (d *Decoder) Flush() error {
	d.Flushed = true
	return nil
}

// ── Encoder ───────────────────────────────────────────────────────────────────

// EncoderFactory builds pass-through encoders that write pixel data
// unchanged.
type EncoderFactory struct {
	// ColorSpaces is what instances declare unless EncodeOptions overrides
	// it; nil means rgb and gray.
	ColorSpaces []core.ColorSpace
	// Undeclared builds instances that declare no color spaces at all.
	Undeclared bool
	// FailPixels makes instances fail on pixel data.
	FailPixels error
	// Last is the most recent instance.
	Last *Encoder
}

func (f *EncoderFactory) Name() string { return "test" }

func (f *EncoderFactory) New(out io.Writer, opts core.EncodeOptions) (core.Encoder, error) {
	cs := f.ColorSpaces
	if cs == nil {
		cs = colorSpaces
	}
	if opts.ColorSpaces != nil {
		cs = opts.ColorSpaces
	}
	e := &Encoder{out: out, colorSpaces: cs, fail: f.FailPixels}
	f.Last = e
	if f.Undeclared {
		return &undeclared{e}, nil
	}
	return e, nil
}

// Encoder records what it receives.
type Encoder struct {
	out         io.Writer
	colorSpaces []core.ColorSpace
	fail        error

	Received core.PixelFormat
	Metas    []core.Metadata
	Frames   []core.Frame
	Ended    bool
	Aborted  error
}

func (e *Encoder) SupportedColorSpaces() []core.ColorSpace { return e.colorSpaces }

func (e *Encoder) Format(f core.PixelFormat) error {
	e.Received = f
	return nil
}

func (e *Encoder) Meta(m core.Metadata) error {
	e.Metas = append(e.Metas, m)
	return nil
}

func (e *Encoder) Frame(f core.Frame) error {
	e.Frames = append(e.Frames, f)
	return nil
}

func (e *Encoder) Pixels(p []byte) error {
	if e.fail != nil {
		return e.fail
	}
	_, err := e.out.Write(p)
	return err
}

func (e *Encoder) End() error {
	e.Ended = true
	return nil
}

func (e *Encoder) Abort(err error) { e.Aborted = err }

// undeclared hides SupportedColorSpaces.
type undeclared struct{ e *Encoder }

func (u *undeclared) Format(f core.PixelFormat) error { return u.e.Format(f) }
func (u *undeclared) Meta(m core.Metadata) error      { return u.e.Meta(m) }
func (u *undeclared) Frame(f core.Frame) error        { return u.e.Frame(f) }
func (u *undeclared) Pixels(p []byte) error           { return u.e.Pixels(p) }
func (u *undeclared) End() error                      { return u.e.End() }

var (
	_ core.DecoderFactory   = (*DecoderFactory)(nil)
	_ core.EncoderFactory   = (*EncoderFactory)(nil)
	_ core.ColorSpaceLister = (*Encoder)(nil)
)
