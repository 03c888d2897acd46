// Package raster converts between image.Image values and the packed 8-bit
// pixel layouts carried by pixel streams.
package raster

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/Skryldev/imagestream/core"
)

// FromImage returns the stream format and packed pixels of img.  The color
// space follows the concrete image type: paletted images stay indexed, gray
// stays gray, CMYK stays cmyk, and everything else becomes rgb when opaque
// or rgba (straight alpha) when not.
func FromImage(img image.Image) (core.PixelFormat, []byte) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	f := core.PixelFormat{Width: w, Height: h}

	switch src := img.(type) {
	case *image.Paletted:
		f.ColorSpace = core.ColorSpaceIndexed
		f.Palette = src.Palette
		return f, rows(src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h)
	case *image.Gray:
		f.ColorSpace = core.ColorSpaceGray
		return f, rows(src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h)
	case *image.CMYK:
		f.ColorSpace = core.ColorSpaceCMYK
		return f, rows(src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w*4, h)
	case *image.Gray16:
		f.ColorSpace = core.ColorSpaceGray
		out := make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, uint8(src.Gray16At(x, y).Y>>8))
			}
		}
		return f, out
	}

	opaque := false
	if o, ok := img.(interface{ Opaque() bool }); ok {
		opaque = o.Opaque()
	}
	if opaque {
		f.ColorSpace = core.ColorSpaceRGB
		out := make([]byte, 0, w*h*3)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				out = append(out, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			}
		}
		return f, out
	}

	f.ColorSpace = core.ColorSpaceRGBA
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
		b = nrgba.Bounds()
	}
	return f, rows(nrgba.Pix, nrgba.Stride, nrgba.PixOffset(b.Min.X, b.Min.Y), w*4, h)
}

// rows copies h rows of rowBytes each out of a strided buffer.
func rows(pix []byte, stride, offset, rowBytes, h int) []byte {
	out := make([]byte, 0, rowBytes*h)
	for y := 0; y < h; y++ {
		start := offset + y*stride
		out = append(out, pix[start:start+rowBytes]...)
	}
	return out
}

// ToImage wraps packed pixels in an image.Image of the matching type.  pix
// must hold exactly one frame.
func ToImage(f core.PixelFormat, pix []byte) (image.Image, error) {
	if size := f.FrameSize(); size == 0 && f.Width*f.Height != 0 {
		return nil, fmt.Errorf("raster: unsupported color space %s", f.ColorSpace)
	} else if len(pix) != size {
		return nil, fmt.Errorf("raster: got %d bytes for a %s frame of %d bytes", len(pix), f, size)
	}
	r := image.Rect(0, 0, f.Width, f.Height)

	switch f.ColorSpace {
	case core.ColorSpaceGray:
		return &image.Gray{Pix: pix, Stride: f.Width, Rect: r}, nil
	case core.ColorSpaceCMYK:
		return &image.CMYK{Pix: pix, Stride: f.Width * 4, Rect: r}, nil
	case core.ColorSpaceRGBA:
		return &image.NRGBA{Pix: pix, Stride: f.Width * 4, Rect: r}, nil
	case core.ColorSpaceIndexed:
		if len(f.Palette) == 0 {
			return nil, fmt.Errorf("raster: indexed frame without palette")
		}
		return &image.Paletted{Pix: pix, Stride: f.Width, Rect: r, Palette: f.Palette}, nil
	case core.ColorSpaceRGB:
		img := image.NewNRGBA(r)
		for i, j := 0, 0; i < len(pix); i, j = i+3, j+4 {
			img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = pix[i], pix[i+1], pix[i+2], 0xff
		}
		return img, nil
	case core.ColorSpaceGrayA:
		img := image.NewNRGBA(r)
		for i, j := 0, 0; i < len(pix); i, j = i+2, j+4 {
			img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = pix[i], pix[i], pix[i], pix[i+1]
		}
		return img, nil
	}
	return nil, fmt.Errorf("raster: unsupported color space %s", f.ColorSpace)
}

// Paletted returns img as a paletted image, mapping it onto palette when it
// is not one already.
func Paletted(img image.Image, palette color.Palette) *image.Paletted {
	if p, ok := img.(*image.Paletted); ok {
		return p
	}
	p := image.NewPaletted(img.Bounds(), palette)
	draw.Draw(p, p.Bounds(), img, img.Bounds().Min, draw.Src)
	return p
}

// NRGBA packs img as rgba pixels regardless of its concrete type.
func NRGBA(img image.Image) []byte {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok {
		return rows(n.Pix, n.Stride, n.PixOffset(b.Min.X, b.Min.Y), b.Dx()*4, b.Dy())
	}
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	return n.Pix
}
