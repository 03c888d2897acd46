package encoder_test

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/Skryldev/imagestream/adapters/encoder"
	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
)

func TestRestrict(t *testing.T) {
	supported := []core.ColorSpace{"rgb", "rgba", "gray"}
	assert.Equal(t, supported, encoder.Restrict(supported, nil))
	assert.Equal(t, []core.ColorSpace{"gray", "rgb"}, encoder.Restrict(supported, []core.ColorSpace{"gray", "cmyk", "rgb", "gray"}))
	assert.Empty(t, encoder.Restrict(supported, []core.ColorSpace{"cmyk"}))
}

func TestNewRejectsUnwritableColorSpaces(t *testing.T) {
	_, err := encoder.NewJPEG(0).New(&bytes.Buffer{}, core.EncodeOptions{ColorSpaces: []core.ColorSpace{"rgba"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryConfig))
}

func TestAdvertisedColorSpaces(t *testing.T) {
	enc, err := encoder.NewPNG().New(&bytes.Buffer{}, core.EncodeOptions{ColorSpaces: []core.ColorSpace{"indexed", "rgb"}})
	require.NoError(t, err)
	lister, ok := enc.(core.ColorSpaceLister)
	require.True(t, ok)
	assert.Equal(t, []core.ColorSpace{"indexed", "rgb"}, lister.SupportedColorSpaces())
}

func TestPNGEncodesRGB(t *testing.T) {
	var out bytes.Buffer
	enc, err := encoder.NewPNG().New(&out, core.EncodeOptions{})
	require.NoError(t, err)

	require.NoError(t, enc.Format(core.PixelFormat{Width: 2, Height: 1, ColorSpace: core.ColorSpaceRGB}))
	require.NoError(t, enc.Pixels([]byte{255, 0, 33}))
	require.NoError(t, enc.Pixels([]byte{10, 56, 22}))
	require.NoError(t, enc.End())

	img, err := png.Decode(&out)
	require.NoError(t, err)
	assert.True(t, img.(interface{ Opaque() bool }).Opaque())
	r, g, b, _ := img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{10, 56, 22}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestJPEGEncodesGray(t *testing.T) {
	var out bytes.Buffer
	enc, err := encoder.NewJPEG(90).New(&out, core.EncodeOptions{})
	require.NoError(t, err)

	require.NoError(t, enc.Format(core.PixelFormat{Width: 8, Height: 8, ColorSpace: core.ColorSpaceGray}))
	require.NoError(t, enc.Pixels(bytes.Repeat([]byte{128}, 64)))
	require.NoError(t, enc.End())

	img, err := jpeg.Decode(&out)
	require.NoError(t, err)
	assert.IsType(t, &image.Gray{}, img)
}

func TestGIFEncodesFrames(t *testing.T) {
	palette := color.Palette{color.RGBA{A: 255}, color.RGBA{R: 255, A: 255}}
	var out bytes.Buffer
	enc, err := encoder.NewGIF().New(&out, core.EncodeOptions{})
	require.NoError(t, err)

	require.NoError(t, enc.Format(core.PixelFormat{Width: 2, Height: 1, ColorSpace: core.ColorSpaceIndexed, Palette: palette}))
	require.NoError(t, enc.Meta(core.Metadata{"loop_count": uint64(2)}))
	require.NoError(t, enc.Frame(core.Frame{Index: 0, Delay: 50 * time.Millisecond}))
	require.NoError(t, enc.Pixels([]byte{0, 1}))
	require.NoError(t, enc.Frame(core.Frame{Index: 1, Delay: 120 * time.Millisecond}))
	require.NoError(t, enc.Pixels([]byte{1, 0}))
	require.NoError(t, enc.End())

	g, err := gif.DecodeAll(&out)
	require.NoError(t, err)
	require.Len(t, g.Image, 2)
	assert.Equal(t, []int{5, 12}, g.Delay)
	assert.Equal(t, 2, g.LoopCount)
	assert.Equal(t, []byte{1, 0}, g.Image[1].Pix)
}

func TestTIFFUncompressedRoundTrip(t *testing.T) {
	var out bytes.Buffer
	enc, err := encoder.NewTIFF().New(&out, core.EncodeOptions{Compression: "none"})
	require.NoError(t, err)

	require.NoError(t, enc.Format(core.PixelFormat{Width: 2, Height: 1, ColorSpace: core.ColorSpaceGray}))
	require.NoError(t, enc.Pixels([]byte{17, 34}))
	require.NoError(t, enc.End())

	img, err := tiff.Decode(&out)
	require.NoError(t, err)
	gray, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []byte{17, 34}, gray.Pix)
}

func TestEncoderRejectsPartialFrames(t *testing.T) {
	enc, err := encoder.NewPNG().New(&bytes.Buffer{}, core.EncodeOptions{})
	require.NoError(t, err)

	require.NoError(t, enc.Format(core.PixelFormat{Width: 2, Height: 1, ColorSpace: core.ColorSpaceRGB}))
	require.NoError(t, enc.Pixels([]byte{1, 2, 3}))
	assert.ErrorIs(t, enc.End(), apperrors.ErrInvalidDimensions)
}

func TestEncoderRejectsUndeclaredColorSpace(t *testing.T) {
	enc, err := encoder.NewJPEG(0).New(&bytes.Buffer{}, core.EncodeOptions{})
	require.NoError(t, err)
	assert.Error(t, enc.Format(core.PixelFormat{Width: 1, Height: 1, ColorSpace: core.ColorSpaceRGBA}))
}

func TestEncoderAbortWritesNothing(t *testing.T) {
	var out bytes.Buffer
	enc, err := encoder.NewBMP().New(&out, core.EncodeOptions{})
	require.NoError(t, err)

	require.NoError(t, enc.Format(core.PixelFormat{Width: 1, Height: 1, ColorSpace: core.ColorSpaceRGB}))
	require.NoError(t, enc.Pixels([]byte{1, 2, 3}))
	enc.(core.Aborter).Abort(nil)
	assert.Zero(t, out.Len())
}
