// Package encoder provides buffered encoder plugins for the raster formats
// writable with the standard library and golang.org/x/image.
//
// The underlying encoders take whole images, so each plugin collects the
// pixel stream in a pooled buffer and encodes when the stream ends.
package encoder

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

// Job is everything a format writer needs once the stream has ended.
type Job struct {
	Format core.PixelFormat
	// Frames has at least one entry; single-image formats write Frames[0].
	Frames  []image.Image
	Delays  []time.Duration
	Meta    core.Metadata
	Options core.EncodeOptions
}

// WriteFunc writes a finished job to w.
type WriteFunc func(w io.Writer, job *Job) error

// Factory is a core.EncoderFactory for one buffered format.
type Factory struct {
	name   string
	spaces []core.ColorSpace
	write  WriteFunc
}

// New returns a Factory writing with write and accepting spaces, in
// preference order.
func New(name string, spaces []core.ColorSpace, write WriteFunc) *Factory {
	return &Factory{name: name, spaces: spaces, write: write}
}

func (f *Factory) Name() string { return f.name }

// ColorSpaces returns the color spaces the format can write.
func (f *Factory) ColorSpaces() []core.ColorSpace { return slices.Clone(f.spaces) }

// New instantiates an encoder writing to out.  A non-empty
// opts.ColorSpaces narrows and reorders the advertised list; an empty
// intersection is a configuration error.
func (f *Factory) New(out io.Writer, opts core.EncodeOptions) (core.Encoder, error) {
	spaces := Restrict(f.spaces, opts.ColorSpaces)
	if len(spaces) == 0 {
		return nil, apperrors.New(apperrors.CategoryConfig, f.name,
			fmt.Errorf("none of %v can be written (supported: %v)", opts.ColorSpaces, f.spaces))
	}
	return &buffered{f: f, out: out, opts: opts, spaces: spaces}, nil
}

// Restrict returns the entries of wanted that supported contains, in the
// order of wanted.  An empty wanted returns supported unchanged.
func Restrict(supported, wanted []core.ColorSpace) []core.ColorSpace {
	if len(wanted) == 0 {
		return supported
	}
	var out []core.ColorSpace
	for _, cs := range wanted {
		if slices.Contains(supported, cs) && !slices.Contains(out, cs) {
			out = append(out, cs)
		}
	}
	return out
}

type frameMark struct {
	offset int
	frame  core.Frame
}

// buffered is the per-stream encoder instance.
type buffered struct {
	f      *Factory
	out    io.Writer
	opts   core.EncodeOptions
	spaces []core.ColorSpace

	format *core.PixelFormat
	buf    *bytes.Buffer
	meta   core.Metadata
	marks  []frameMark
	done   bool
}

func (e *buffered) SupportedColorSpaces() []core.ColorSpace { return e.spaces }

func (e *buffered) Format(f core.PixelFormat) error {
	if e.format != nil {
		return apperrors.Protocol(e.f.name, "second format declaration")
	}
	if !slices.Contains(e.spaces, f.ColorSpace) {
		return fmt.Errorf("%s: cannot write %s pixels", e.f.name, f.ColorSpace)
	}
	e.format = &f
	e.buf = utils.AcquireBuffer()
	return nil
}

func (e *buffered) Meta(m core.Metadata) error {
	if e.opts.StripMetadata {
		return nil
	}
	if e.meta == nil {
		e.meta = core.Metadata{}
	}
	maps.Copy(e.meta, m)
	return nil
}

func (e *buffered) Frame(f core.Frame) error {
	offset := 0
	if e.buf != nil {
		offset = e.buf.Len()
	}
	e.marks = append(e.marks, frameMark{offset: offset, frame: f})
	return nil
}

func (e *buffered) Pixels(p []byte) error {
	if e.buf == nil {
		return apperrors.Protocol(e.f.name, "pixel data before format declaration")
	}
	e.buf.Write(p)
	return nil
}

func (e *buffered) End() error {
	if e.format == nil {
		return apperrors.Protocol(e.f.name, "end of input before format declaration")
	}
	if e.done {
		return apperrors.ErrSessionClosed
	}
	e.done = true
	defer e.release()

	job, err := e.job()
	if err != nil {
		return err
	}
	return e.f.write(e.out, job)
}

// Abort drops the buffered pixels; nothing is written.
func (e *buffered) Abort(error) { e.release() }

func (e *buffered) release() {
	if e.buf != nil {
		utils.ReleaseBuffer(e.buf)
		e.buf = nil
	}
}

// job splits the buffered pixels into frames.
func (e *buffered) job() (*Job, error) {
	f := *e.format
	size := f.FrameSize()
	pix := e.buf.Bytes()
	if size == 0 || len(pix) == 0 || len(pix)%size != 0 {
		return nil, fmt.Errorf("%s: %w: %d bytes do not form whole %s frames", e.f.name, apperrors.ErrInvalidDimensions, len(pix), f)
	}

	n := len(pix) / size
	job := &Job{Format: f, Meta: e.meta, Options: e.opts, Frames: make([]image.Image, n), Delays: make([]time.Duration, n)}
	for _, m := range e.marks {
		if i := m.offset / size; m.offset%size == 0 && i < n {
			job.Delays[i] = m.frame.Delay
		}
	}
	for i := range n {
		// The buffer is pooled; the images must own their pixels.
		img, err := raster.ToImage(f, bytes.Clone(pix[i*size:(i+1)*size]))
		if err != nil {
			return nil, err
		}
		job.Frames[i] = img
	}
	return job, nil
}

var (
	_ core.EncoderFactory   = (*Factory)(nil)
	_ core.Encoder          = (*buffered)(nil)
	_ core.ColorSpaceLister = (*buffered)(nil)
	_ core.Aborter          = (*buffered)(nil)
)
