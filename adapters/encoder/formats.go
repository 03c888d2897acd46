package encoder

import (
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/Skryldev/imagestream/adapters/raster"
	"github.com/Skryldev/imagestream/core"
)

// DefaultQuality is used by lossy formats when EncodeOptions.Quality is 0.
const DefaultQuality = 85

// NewPNG returns the PNG encoder.  Lossless asks for the best compression.
func NewPNG() *Factory {
	return New("png", []core.ColorSpace{
		core.ColorSpaceRGB, core.ColorSpaceRGBA, core.ColorSpaceGray, core.ColorSpaceGrayA, core.ColorSpaceIndexed,
	}, func(w io.Writer, job *Job) error {
		enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
		if job.Options.Lossless {
			enc.CompressionLevel = png.BestCompression
		}
		return enc.Encode(w, opaque(job.Format, job.Frames[0]))
	})
}

// NewJPEG returns the JPEG encoder.
func NewJPEG(defaultQuality int) *Factory {
	if defaultQuality <= 0 {
		defaultQuality = DefaultQuality
	}
	return New("jpeg", []core.ColorSpace{core.ColorSpaceRGB, core.ColorSpaceGray},
		func(w io.Writer, job *Job) error {
			quality := job.Options.Quality
			if quality <= 0 {
				quality = defaultQuality
			}
			return jpeg.Encode(w, job.Frames[0], &jpeg.Options{Quality: quality})
		})
}

// NewGIF returns the GIF encoder.  It writes every frame; a "loop_count"
// metadata entry sets the loop count.
func NewGIF() *Factory {
	return New("gif", []core.ColorSpace{core.ColorSpaceIndexed}, func(w io.Writer, job *Job) error {
		g := &gif.GIF{
			Image: make([]*image.Paletted, len(job.Frames)),
			Delay: make([]int, len(job.Frames)),
		}
		for i, img := range job.Frames {
			g.Image[i] = raster.Paletted(img, job.Format.Palette)
			g.Delay[i] = int(job.Delays[i] / (10 * time.Millisecond))
		}
		if loop, ok := intValue(job.Meta["loop_count"]); ok {
			g.LoopCount = loop
		}
		return gif.EncodeAll(w, g)
	})
}

// NewBMP returns the BMP encoder (golang.org/x/image/bmp).
func NewBMP() *Factory {
	return New("bmp", []core.ColorSpace{
		core.ColorSpaceRGB, core.ColorSpaceRGBA, core.ColorSpaceGray, core.ColorSpaceIndexed,
	}, func(w io.Writer, job *Job) error {
		return bmp.Encode(w, opaque(job.Format, job.Frames[0]))
	})
}

// NewTIFF returns the TIFF encoder (golang.org/x/image/tiff).  Output is
// deflate-compressed unless EncodeOptions.Compression is "none".
func NewTIFF() *Factory {
	return New("tiff", []core.ColorSpace{
		core.ColorSpaceRGB, core.ColorSpaceRGBA, core.ColorSpaceGray, core.ColorSpaceIndexed,
	}, func(w io.Writer, job *Job) error {
		opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
		if job.Options.Compression == "none" {
			opts = &tiff.Options{Compression: tiff.Uncompressed}
		}
		return tiff.Encode(w, opaque(job.Format, job.Frames[0]), opts)
	})
}

// opaque returns rgb frames as *image.RGBA so that writers which check for
// opacity emit them without an alpha channel.
func opaque(f core.PixelFormat, img image.Image) image.Image {
	if f.ColorSpace != core.ColorSpaceRGB {
		return img
	}
	if n, ok := img.(*image.NRGBA); ok {
		return &image.RGBA{Pix: n.Pix, Stride: n.Stride, Rect: n.Rect}
	}
	return img
}

// intValue accepts the integer types metadata values arrive as.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
