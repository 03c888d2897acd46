package pixraw

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
)

// ColorSpaces lists what the container stores, in preference order.
var ColorSpaces = []core.ColorSpace{
	core.ColorSpaceRGB,
	core.ColorSpaceRGBA,
	core.ColorSpaceGray,
	core.ColorSpaceGrayA,
	core.ColorSpaceCMYK,
	core.ColorSpaceIndexed,
}

// EncoderFactory builds pixraw encoders.
type EncoderFactory struct{}

// NewEncoder returns the pixraw EncoderFactory.
func NewEncoder() *EncoderFactory { return &EncoderFactory{} }

func (*EncoderFactory) Name() string { return "pixraw" }

func (*EncoderFactory) New(out io.Writer, opts core.EncodeOptions) (core.Encoder, error) {
	c, err := ParseCompression(opts.Compression)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "pixraw", err)
	}
	spaces := ColorSpaces
	if len(opts.ColorSpaces) > 0 {
		spaces = nil
		for _, cs := range opts.ColorSpaces {
			if slices.Contains(ColorSpaces, cs) {
				spaces = append(spaces, cs)
			}
		}
		if len(spaces) == 0 {
			return nil, apperrors.New(apperrors.CategoryConfig, "pixraw",
				fmt.Errorf("none of %v can be stored", opts.ColorSpaces))
		}
	}
	return &Encoder{
		out:         out,
		compression: c,
		spaces:      spaces,
		strip:       opts.StripMetadata,
		hash:        blake3.New(),
	}, nil
}

// Encoder writes one pixraw stream.  Pixel data is cut into records of at
// most 64 KiB; metadata and frame events flush the pending pixels first so
// that record order matches event order.
type Encoder struct {
	out         io.Writer
	compression Compression
	spaces      []core.ColorSpace
	strip       bool
	hash        *blake3.Hasher

	started bool
	ended   bool
	pending []byte
	head    [headerLen]byte
}

func (e *Encoder) SupportedColorSpaces() []core.ColorSpace { return e.spaces }

func (e *Encoder) Format(f core.PixelFormat) error {
	if e.started {
		return apperrors.Protocol("pixraw", "second format declaration")
	}
	if !slices.Contains(e.spaces, f.ColorSpace) {
		return fmt.Errorf("pixraw: cannot store %s pixels", f.ColorSpace)
	}
	e.started = true

	if _, err := e.out.Write(append(slices.Clone(Magic), Version)); err != nil {
		return err
	}
	payload, err := encMode.Marshal(newHeaderPayload(f))
	if err != nil {
		return err
	}
	return e.writeRecord(kindHeader, payload)
}

func (e *Encoder) Meta(m core.Metadata) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.strip {
		return nil
	}
	payload, err := encMode.Marshal(map[string]any(m))
	if err != nil {
		return fmt.Errorf("pixraw: metadata: %w", err)
	}
	if err := e.flush(); err != nil {
		return err
	}
	return e.writeRecord(kindMeta, payload)
}

func (e *Encoder) Frame(f core.Frame) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.strip {
		f.Meta = nil
	}
	payload, err := encMode.Marshal(newFramePayload(f))
	if err != nil {
		return fmt.Errorf("pixraw: frame: %w", err)
	}
	if err := e.flush(); err != nil {
		return err
	}
	return e.writeRecord(kindFrame, payload)
}

func (e *Encoder) Pixels(p []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	e.hash.Write(p)
	for len(p) > 0 {
		n := min(blockSize-len(e.pending), len(p))
		e.pending = append(e.pending, p[:n]...)
		p = p[n:]
		if len(e.pending) == blockSize {
			if err := e.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Encoder) End() error {
	if err := e.check(); err != nil {
		return err
	}
	if err := e.flush(); err != nil {
		return err
	}
	e.ended = true
	return e.writeRecord(kindEnd, e.hash.Sum(nil))
}

// Abort discards pending pixels.  Records already written stay written; a
// stream without an end record is rejected by the decoder.
func (e *Encoder) Abort(error) {
	e.ended = true
	e.pending = nil
}

func (e *Encoder) check() error {
	if !e.started {
		return apperrors.Protocol("pixraw", "event before format declaration")
	}
	if e.ended {
		return apperrors.ErrSessionClosed
	}
	return nil
}

func (e *Encoder) flush() error {
	if len(e.pending) == 0 {
		return nil
	}
	err := e.writeRecord(kindPixels, e.pending)
	e.pending = e.pending[:0]
	return err
}

func (e *Encoder) writeRecord(k kind, raw []byte) error {
	h := recordHeader{kind: k, tag: CompressionNone, rawLen: len(raw)}
	data := raw
	if k != kindEnd && e.compression != CompressionNone && len(raw) >= minPayload {
		packed, err := compress(raw, e.compression)
		switch {
		case err == nil:
			h.tag, data = e.compression, packed
		case !errors.Is(err, errIncompressible):
			return fmt.Errorf("pixraw: %s record: %w", k, err)
		}
	}
	h.dataLen = len(data)
	h.put(e.head[:])
	if _, err := e.out.Write(e.head[:]); err != nil {
		return err
	}
	_, err := e.out.Write(data)
	return err
}

var (
	_ core.EncoderFactory   = (*EncoderFactory)(nil)
	_ core.Encoder          = (*Encoder)(nil)
	_ core.ColorSpaceLister = (*Encoder)(nil)
	_ core.Aborter          = (*Encoder)(nil)
)
