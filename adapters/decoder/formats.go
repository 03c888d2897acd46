package decoder

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/Skryldev/imagestream/core"
	"github.com/Skryldev/imagestream/utils"
)

// NewPNG returns the PNG decoder.  Paletted, gray and opaque files keep
// their layout; everything else is emitted as rgba.
func NewPNG() *Factory { return New("png", utils.MIMEPNG, png.Decode, png.DecodeConfig) }

// NewJPEG returns the JPEG decoder.  YCbCr files are emitted as rgb.
func NewJPEG() *Factory { return New("jpeg", utils.MIMEJPEG, jpeg.Decode, jpeg.DecodeConfig) }

// NewBMP returns the BMP decoder (golang.org/x/image/bmp).
func NewBMP() *Factory { return New("bmp", utils.MIMEBMP, bmp.Decode, bmp.DecodeConfig) }

// NewTIFF returns the TIFF decoder (golang.org/x/image/tiff).
func NewTIFF() *Factory { return New("tiff", utils.MIMETIFF, tiff.Decode, tiff.DecodeConfig) }

// NewWebP returns the WebP decoder (golang.org/x/image/webp).
// NOTE: golang.org/x/image/webp decodes still images only; animated files
// fail with a decoding error.
func NewWebP() *Factory { return New("webp", utils.MIMEWebP, webp.Decode, webp.DecodeConfig) }

// NewGIF returns the GIF decoder.  Every frame is emitted at canvas size
// with its delay; the loop count goes into the metadata event.
func NewGIF() *Factory {
	return &Factory{
		name:   "gif",
		mime:   utils.MIMEGIF,
		config: gif.DecodeConfig,
		decode: decodeGIF,
	}
}

func decodeGIF(data []byte) (*Decoded, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out := &Decoded{
		Delays: make([]time.Duration, len(g.Image)),
		Meta:   core.Metadata{"loop_count": g.LoopCount},
	}
	for i, d := range g.Delay {
		out.Delays[i] = time.Duration(d) * 10 * time.Millisecond
	}

	canvas := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if canvas.Empty() && len(g.Image) > 0 {
		canvas = g.Image[0].Bounds()
	}
	if len(g.Image) == 1 && g.Image[0].Bounds() == canvas {
		out.Frames = []image.Image{g.Image[0]}
		return out, nil
	}
	out.Frames = compose(g, canvas)
	return out, nil
}

// compose renders each GIF frame onto the canvas, honoring the disposal
// method of the frame before it.
func compose(g *gif.GIF, bounds image.Rectangle) []image.Image {
	canvas := image.NewNRGBA(bounds)
	frames := make([]image.Image, 0, len(g.Image))
	for i, frame := range g.Image {
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var previous *image.NRGBA
		if disposal == gif.DisposalPrevious {
			previous = cloneNRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, cloneNRGBA(canvas))

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return frames
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
