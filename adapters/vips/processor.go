// Package vips adds libvips-backed codecs for the formats the Go image
// libraries cannot write (WebP) or read at all (AVIF, HEIF).
//
// libvips works on whole images, so these plugins are buffered like the
// ones in adapters/decoder and adapters/encoder: pixels cross the cgo
// boundary as an uncompressed PNG.
package vips

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/imagestream/adapters/decoder"
	"github.com/Skryldev/imagestream/adapters/encoder"
	"github.com/Skryldev/imagestream/core"
	"github.com/Skryldev/imagestream/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

// Backend owns the libvips runtime and builds its codecs.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = encoder.DefaultQuality
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Codecs ───────────────────────────────────────────────────────────────────

// Codecs lists the backend's plugins: WebP encoding, AVIF and HEIF both
// ways.  WebP decoding stays with golang.org/x/image.
func (b *Backend) Codecs() []core.Codec {
	return []core.Codec{
		{Format: utils.MIMEWebP, Encoder: b.encoder("vips.webp", b.exportWebP)},
		{Format: utils.MIMEAVIF, Encoder: b.encoder("vips.avif", b.exportAVIF), Decoder: b.decoder("vips.avif", utils.MIMEAVIF)},
		{Format: utils.MIMEHEIF, Encoder: b.encoder("vips.heif", b.exportHEIF), Decoder: b.decoder("vips.heif", utils.MIMEHEIF)},
	}
}

// Register adds the backend's codecs to reg.  Encoders replace any already
// registered under the same key; decoders are probed after earlier ones.
func Register(reg core.Registry, b *Backend) {
	for _, c := range b.Codecs() {
		if c.Decoder != nil {
			reg.RegisterDecoder(c.Decoder)
		}
		if c.Encoder != nil {
			reg.RegisterEncoder(c.Format, c.Encoder)
		}
	}
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) decoder(name, mime string) *decoder.Factory {
	return decoder.NewFunc(name, mime, func(data []byte) (*decoder.Decoded, error) {
		ref, err := govips.NewImageFromBuffer(data)
		if err != nil {
			return nil, err
		}
		defer ref.Close()

		meta := core.Metadata{}
		if o := ref.Orientation(); o > 0 {
			meta["orientation"] = o
		}
		if fields := ref.GetFields(); len(fields) > 0 {
			exif := make(map[string]string, len(fields))
			for _, field := range fields {
				exif[field] = ref.GetString(field)
			}
			meta["exif"] = exif
		}

		raw, _, err := ref.ExportPng(govips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return &decoder.Decoded{Frames: []image.Image{img}, Meta: meta}, nil
	})
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

type exportFunc func(ref *govips.ImageRef, opts core.EncodeOptions, quality int) ([]byte, error)

func (b *Backend) encoder(name string, export exportFunc) *encoder.Factory {
	spaces := []core.ColorSpace{core.ColorSpaceRGB, core.ColorSpaceRGBA}
	return encoder.New(name, spaces, func(w io.Writer, job *encoder.Job) error {
		buf := utils.AcquireBuffer()
		defer utils.ReleaseBuffer(buf)
		enc := &png.Encoder{CompressionLevel: png.NoCompression}
		if err := enc.Encode(buf, job.Frames[0]); err != nil {
			return err
		}

		ref, err := govips.NewImageFromBuffer(buf.Bytes())
		if err != nil {
			return err
		}
		defer ref.Close()
		if job.Options.StripMetadata {
			if err := ref.RemoveMetadata(); err != nil {
				return err
			}
		}

		quality := job.Options.Quality
		if quality <= 0 {
			quality = b.cfg.DefaultQuality
		}
		out, err := export(ref, job.Options, quality)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	})
}

func (b *Backend) exportWebP(ref *govips.ImageRef, opts core.EncodeOptions, quality int) ([]byte, error) {
	ep := govips.NewWebpExportParams()
	ep.Quality = quality
	ep.Lossless = opts.Lossless
	ep.StripMetadata = opts.StripMetadata
	buf, _, err := ref.ExportWebp(ep)
	return buf, err
}

func (b *Backend) exportAVIF(ref *govips.ImageRef, opts core.EncodeOptions, quality int) ([]byte, error) {
	ep := govips.NewAvifExportParams()
	ep.Quality = quality
	ep.Lossless = opts.Lossless
	ep.StripMetadata = opts.StripMetadata
	buf, _, err := ref.ExportAvif(ep)
	return buf, err
}

func (b *Backend) exportHEIF(ref *govips.ImageRef, opts core.EncodeOptions, quality int) ([]byte, error) {
	ep := govips.NewHeifExportParams()
	ep.Quality = quality
	ep.Lossless = opts.Lossless
	buf, _, err := ref.ExportHeif(ep)
	return buf, err
}
