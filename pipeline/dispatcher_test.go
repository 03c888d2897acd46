package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
	"github.com/Skryldev/imagestream/internal/testcodec"
)

func testRegistry() *core.DefaultRegistry {
	reg := core.NewRegistry()
	reg.Use(core.Codec{
		Decoder: &testcodec.DecoderFactory{},
		Encoder: &testcodec.EncoderFactory{},
		Format:  "image/fake",
	})
	return reg
}

func decodeChunks(t *testing.T, reg core.Registry, chunks ...[]byte) (*Dispatcher, *Collector, error) {
	t.Helper()
	out := &Collector{}
	d := NewDispatcher(reg, out, core.DecodeOptions{})
	for _, c := range chunks {
		if _, err := d.Write(c); err != nil {
			return d, out, err
		}
	}
	return d, out, d.Close()
}

func TestDispatcherDecodes(t *testing.T) {
	d, out, err := decodeChunks(t, testRegistry(), []byte{0xff, 1, 2, 0, 255, 0, 33, 10, 56, 22})
	require.NoError(t, err)

	want := core.PixelFormat{Width: 1, Height: 2, ColorSpace: core.ColorSpaceRGB}
	got, ok := d.Format()
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, want, out.Declared)
	assert.Equal(t, "test", d.Plugin())
	assert.Equal(t, Flushed, d.State())

	require.Len(t, out.Frames, 1)
	assert.Equal(t, []byte{255, 0, 33, 10, 56, 22}, out.Frames[0].Pixels)
	assert.True(t, out.Ended)
}

func TestDispatcherUnsupportedFormat(t *testing.T) {
	d, out, err := decodeChunks(t, testRegistry(), []byte{0, 1, 2, 0, 255, 0, 33, 10, 56, 22})
	require.Error(t, err)

	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryUnsupportedFormat))
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
	assert.Equal(t, DecodeErrored, d.State())
	assert.Empty(t, out.Events)

	// Terminal: later writes and Close report the same failure.
	_, again := d.Write([]byte{0xff, 1, 1, 0})
	assert.Equal(t, err, again)
	assert.Equal(t, err, d.Close())
}

func TestDispatcherForwardsFormatAndMeta(t *testing.T) {
	_, out, err := decodeChunks(t, testRegistry(), []byte{0xff, 1, 2, 1, 0xfe, 24, 255, 0, 33, 10, 56, 22})
	require.NoError(t, err)

	assert.Equal(t, core.PixelFormat{Width: 1, Height: 2, ColorSpace: core.ColorSpaceGray}, out.Declared)
	assert.Equal(t, []core.Metadata{{"test": 24}}, out.Metas)
	assert.Equal(t, []string{"format", "meta", "pixels", "end"}, out.Events)
}

func TestDispatcherForwardsPluginErrors(t *testing.T) {
	d, out, err := decodeChunks(t, testRegistry(), []byte{0xff, 1, 2, 1, 0xfd, 255, 0, 33, 10, 56, 22})
	require.Error(t, err)

	assert.ErrorIs(t, err, testcodec.ErrDecode)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryPlugin))
	assert.Equal(t, DecodeErrored, d.State())
	// The format went out before the failure and stays emitted.
	assert.True(t, out.HasFormat)
	assert.False(t, out.Ended)
}

func TestDispatcherForwardsFrames(t *testing.T) {
	_, out, err := decodeChunks(t, testRegistry(),
		[]byte{0xff, 1, 1, 0, 0xfc, 243, 255, 0, 33},
		[]byte{0xfc, 123, 10, 56, 22},
	)
	require.NoError(t, err)

	require.Len(t, out.Frames, 2)
	assert.Equal(t, core.Metadata{"d": 243}, out.Frames[0].Frame.Meta)
	assert.Equal(t, []byte{255, 0, 33}, out.Frames[0].Pixels)
	assert.Equal(t, core.Metadata{"d": 123}, out.Frames[1].Frame.Meta)
	assert.Equal(t, []byte{10, 56, 22}, out.Frames[1].Pixels)
	assert.Equal(t, []string{"format", "frame", "pixels", "frame", "pixels", "end"}, out.Events)
}

func TestDispatcherRegistrationOrderBreaksTies(t *testing.T) {
	reg := core.NewRegistry()
	reg.RegisterDecoder(&testcodec.DecoderFactory{Label: "first"})
	reg.RegisterDecoder(&testcodec.DecoderFactory{Label: "second"})

	d, _, err := decodeChunks(t, reg, []byte{0xff, 1, 1, 0, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "first", d.Plugin())
}

func TestDispatcherProbesOnlyTheFirstChunk(t *testing.T) {
	reg := core.NewRegistry()
	reg.RegisterDecoder(&testcodec.DecoderFactory{Label: "ff"})
	reg.RegisterDecoder(&testcodec.DecoderFactory{Label: "ee", Marker: 0xee})

	// The second chunk would match the other plugin; it must not re-probe.
	d, out, err := decodeChunks(t, reg, []byte{0xff, 1, 1, 0}, []byte{0xee, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "ff", d.Plugin())
	assert.Equal(t, []byte{0xee, 0, 0}, out.Frames[0].Pixels)
}

func TestDispatcherPassesDecodeOptions(t *testing.T) {
	var seen core.DecodeOptions
	reg := core.NewRegistry()
	reg.RegisterDecoder(&testcodec.DecoderFactory{Opts: &seen})

	d := NewDispatcher(reg, &Collector{}, core.DecodeOptions{MaxPixels: 42})
	_, err := d.Write([]byte{0xff, 1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, int64(42), seen.MaxPixels)
}

func TestDispatcherEmptyInput(t *testing.T) {
	out := &Collector{}
	d := NewDispatcher(testRegistry(), out, core.DecodeOptions{})
	require.NoError(t, d.Close())

	assert.Equal(t, Flushed, d.State())
	assert.Equal(t, "", d.Plugin())
	_, ok := d.Format()
	assert.False(t, ok)
	assert.Equal(t, []string{"end"}, out.Events)
}

func TestDispatcherWriteAfterClose(t *testing.T) {
	d, _, err := decodeChunks(t, testRegistry(), []byte{0xff, 1, 1, 0, 1, 2, 3})
	require.NoError(t, err)

	_, err = d.Write([]byte{1})
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
}

// doubleFormat declares its format twice.
type doubleFormat struct{ out core.PixelSink }

func (p *doubleFormat) Write([]byte) error {
	f := core.PixelFormat{Width: 1, Height: 1, ColorSpace: core.ColorSpaceRGB}
	if err := p.out.Format(f); err != nil {
		return err
	}
	return p.out.Format(f)
}
func (p *doubleFormat) Flush() error { return nil }

// pixelsFirst emits pixels without a format.
type pixelsFirst struct{ out core.PixelSink }

func (p *pixelsFirst) Write(b []byte) error { return p.out.Pixels(b) }
func (p *pixelsFirst) Flush() error         { return nil }

type funcFactory func(core.PixelSink) core.Decoder

func (funcFactory) Name() string      { return "func" }
func (funcFactory) Probe([]byte) bool { return true }
func (f funcFactory) New(out core.PixelSink, _ core.DecodeOptions) (core.Decoder, error) {
	return f(out), nil
}

func TestDispatcherProtocolViolations(t *testing.T) {
	tests := []struct {
		name    string
		factory funcFactory
	}{
		{"second format", func(out core.PixelSink) core.Decoder { return &doubleFormat{out} }},
		{"pixels before format", func(out core.PixelSink) core.Decoder { return &pixelsFirst{out} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := core.NewRegistry()
			reg.RegisterDecoder(tc.factory)

			_, _, err := decodeChunks(t, reg, []byte{1, 2, 3})
			require.Error(t, err)
			assert.True(t, apperrors.IsCategory(err, apperrors.CategoryProtocol), "got %v", err)
			assert.ErrorIs(t, err, apperrors.ErrProtocolViolation)
		})
	}
}

func TestDispatcherCloseWithErrorAbortsDownstream(t *testing.T) {
	factory := &testcodec.EncoderFactory{}
	reg := testRegistry()
	reg.RegisterEncoder("image/fake", factory)

	var encoded bytes.Buffer
	enc, err := NewBuilder(reg, "image/fake", &encoded, core.EncodeOptions{})
	require.NoError(t, err)

	d := NewDispatcher(reg, enc, core.DecodeOptions{})
	_, err = d.Write([]byte{0xff, 1, 1, 0, 1, 2, 3})
	require.NoError(t, err)

	cause := errors.New("client went away")
	err = d.CloseWithError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, DecodeErrored, d.State())
	assert.Equal(t, EncodeErrored, enc.State())
	assert.ErrorIs(t, factory.Last.Aborted, cause)
}

func TestCopyChunksThroughDispatcher(t *testing.T) {
	out := &Collector{}
	d := NewDispatcher(testRegistry(), out, core.DecodeOptions{})
	src := bytes.NewReader([]byte{0xff, 1, 2, 0, 255, 0, 33, 10, 56, 22})

	require.NoError(t, Copy(context.Background(), d, src, 4096))
	assert.Equal(t, []byte{255, 0, 33, 10, 56, 22}, out.Frames[0].Pixels)
}

func TestCopyCanceled(t *testing.T) {
	d := NewDispatcher(testRegistry(), &Collector{}, core.DecodeOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Copy(ctx, d, bytes.NewReader([]byte{0xff, 1, 1, 0}), 4096)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, DecodeErrored, d.State())
}
