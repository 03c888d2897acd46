package quantize_test

import (
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagestream/adapters/quantize"
	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
	"github.com/Skryldev/imagestream/pipeline"
)

func TestBuildPaletteExact(t *testing.T) {
	rgb := []byte{10, 56, 22, 255, 0, 33, 10, 56, 22}
	p := quantize.BuildPalette(rgb, 16)
	assert.Equal(t, color.Palette{
		color.RGBA{R: 10, G: 56, B: 22, A: 255},
		color.RGBA{R: 255, G: 0, B: 33, A: 255},
	}, p)
}

func TestBuildPaletteReduces(t *testing.T) {
	rgb := make([]byte, 0, 3*256)
	for i := range 256 {
		rgb = append(rgb, uint8(i), uint8(255-i), uint8(i/2))
	}
	p := quantize.BuildPalette(rgb, 8)
	assert.NotEmpty(t, p)
	assert.LessOrEqual(t, len(p), 8)
}

func TestBuildPaletteEmpty(t *testing.T) {
	assert.Len(t, quantize.BuildPalette(nil, 4), 1)
}

func TestMapExact(t *testing.T) {
	palette := color.Palette{
		color.RGBA{R: 255, A: 255},
		color.RGBA{G: 255, A: 255},
		color.RGBA{B: 255, A: 255},
	}
	rgb := []byte{0, 0, 255, 255, 0, 0, 0, 255, 0, 250, 5, 5}
	assert.Equal(t, []byte{2, 0, 1, 0}, quantize.Map(rgb, 2, palette, false))
	assert.Nil(t, quantize.Map(nil, 2, palette, false))
}

func TestQuantizerEmitsIndexed(t *testing.T) {
	var got pipeline.Collector
	q := quantize.New(&got, quantize.Options{Colors: 16})

	require.NoError(t, q.Format(core.PixelFormat{Width: 2, Height: 1, ColorSpace: core.ColorSpaceRGB}))
	require.NoError(t, q.Pixels([]byte{255, 0, 33, 10}))
	require.NoError(t, q.Pixels([]byte{56, 22}))
	assert.False(t, got.HasFormat, "nothing is forwarded before End")
	require.NoError(t, q.End())

	assert.Equal(t, core.ColorSpaceIndexed, got.Declared.ColorSpace)
	assert.Equal(t, color.Palette{
		color.RGBA{R: 255, G: 0, B: 33, A: 255},
		color.RGBA{R: 10, G: 56, B: 22, A: 255},
	}, got.Declared.Palette)
	require.Len(t, got.Frames, 1)
	assert.Equal(t, []byte{0, 1}, got.Frames[0].Pixels)
	assert.True(t, got.Ended)
}

func TestQuantizerReplaysEventsInPlace(t *testing.T) {
	var got pipeline.Collector
	q := quantize.New(&got, quantize.Options{})

	require.NoError(t, q.Format(core.PixelFormat{Width: 1, Height: 1, ColorSpace: core.ColorSpaceRGB}))
	require.NoError(t, q.Meta(core.Metadata{"loop_count": 0}))
	require.NoError(t, q.Frame(core.Frame{Index: 0, Delay: 100 * time.Millisecond}))
	require.NoError(t, q.Pixels([]byte{1, 2, 3}))
	require.NoError(t, q.Frame(core.Frame{Index: 1, Delay: 200 * time.Millisecond}))
	require.NoError(t, q.Pixels([]byte{4, 5, 6}))
	require.NoError(t, q.End())

	assert.Equal(t, []string{"format", "meta", "frame", "pixels", "frame", "pixels", "end"}, got.Events)
	require.Len(t, got.Frames, 2)
	assert.Equal(t, []byte{0}, got.Frames[0].Pixels)
	assert.Equal(t, []byte{1}, got.Frames[1].Pixels)
	assert.Equal(t, 200*time.Millisecond, got.Frames[1].Frame.Delay)
}

func TestQuantizerRejectsNonRGB(t *testing.T) {
	q := quantize.New(&pipeline.Collector{}, quantize.Options{})
	assert.Error(t, q.Format(core.PixelFormat{Width: 1, Height: 1, ColorSpace: core.ColorSpaceRGBA}))
	assert.ErrorIs(t, q.End(), apperrors.ErrProtocolViolation)
}

func TestQuantizerTrailingBytes(t *testing.T) {
	var got pipeline.Collector
	q := quantize.New(&got, quantize.Options{})
	require.NoError(t, q.Format(core.PixelFormat{Width: 1, Height: 1, ColorSpace: core.ColorSpaceRGB}))
	require.NoError(t, q.Pixels([]byte{1, 2, 3, 4}))
	assert.ErrorIs(t, q.End(), apperrors.ErrProtocolViolation)
	assert.False(t, got.HasFormat)
}

func TestQuantizerAbort(t *testing.T) {
	q := quantize.New(&pipeline.Collector{}, quantize.Options{})
	q.Abort(nil)
	require.NoError(t, q.Format(core.PixelFormat{Width: 1, Height: 1, ColorSpace: core.ColorSpaceRGB}))
	require.NoError(t, q.Pixels([]byte{1, 2, 3}))
	q.Abort(assert.AnError)
	q.Abort(assert.AnError)
}
