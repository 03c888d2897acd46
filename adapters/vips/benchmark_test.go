package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"github.com/Skryldev/imagestream"
	"github.com/Skryldev/imagestream/adapters/vips"
	"github.com/Skryldev/imagestream/core"
)

func makeJPEG(b *testing.B, w, h int) []byte {
	b.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92})
	return buf.Bytes()
}

func newVipsProc(b *testing.B) (*imagestream.Processor, *vips.Backend) {
	b.Helper()
	proc := imagestream.New(imagestream.DefaultConfig())
	backend := vips.NewBackend(vips.BackendConfig{DefaultQuality: 85})
	vips.Register(proc.Registry(), backend)
	return proc, backend
}

func newStdlibProc(b *testing.B) *imagestream.Processor {
	b.Helper()
	return imagestream.New(imagestream.DefaultConfig())
}

func benchTranscode(b *testing.B, proc *imagestream.Processor, raw []byte, key string, opts core.EncodeOptions) {
	b.Helper()
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := proc.Transcode(context.Background(), bytes.NewReader(raw), io.Discard, key, opts); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── Lossless targets ─────────────────────────────────────────────────────────

func BenchmarkTranscodePNG_Stdlib_1920x1080(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	benchTranscode(b, newStdlibProc(b), raw, imagestream.PNG, core.EncodeOptions{})
}

func BenchmarkTranscodeWebPLossless_Vips_1920x1080(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	proc, backend := newVipsProc(b)
	defer backend.Shutdown()
	benchTranscode(b, proc, raw, imagestream.WebP, core.EncodeOptions{Lossless: true})
}

// ─── Lossy targets ────────────────────────────────────────────────────────────

func BenchmarkTranscodeJPEG_Stdlib_1920x1080(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	benchTranscode(b, newStdlibProc(b), raw, imagestream.JPEG, core.EncodeOptions{Quality: 80})
}

func BenchmarkTranscodeWebP_Vips_1920x1080(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	proc, backend := newVipsProc(b)
	defer backend.Shutdown()
	benchTranscode(b, proc, raw, imagestream.WebP, core.EncodeOptions{Quality: 80})
}

func BenchmarkTranscodeAVIF_Vips_800x600(b *testing.B) {
	raw := makeJPEG(b, 800, 600)
	proc, backend := newVipsProc(b)
	defer backend.Shutdown()
	benchTranscode(b, proc, raw, "avif", core.EncodeOptions{Quality: 60})
}

// ─── Indexed target ───────────────────────────────────────────────────────────

func BenchmarkTranscodeGIF_Stdlib_800x600(b *testing.B) {
	raw := makeJPEG(b, 800, 600)
	benchTranscode(b, newStdlibProc(b), raw, imagestream.GIF, core.EncodeOptions{Colors: 64})
}

// ─── Round trip ───────────────────────────────────────────────────────────────

func BenchmarkDecodeAVIF_Vips_800x600(b *testing.B) {
	raw := makeJPEG(b, 800, 600)
	proc, backend := newVipsProc(b)
	defer backend.Shutdown()

	var avif bytes.Buffer
	if err := proc.Transcode(context.Background(), bytes.NewReader(raw), &avif, "avif", core.EncodeOptions{}); err != nil {
		b.Fatal(err)
	}
	benchTranscode(b, proc, avif.Bytes(), imagestream.Pixraw, core.EncodeOptions{Compression: "none"})
}
