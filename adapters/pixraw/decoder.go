package pixraw

import (
	"bytes"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
	"github.com/Skryldev/imagestream/utils"
)

// DecoderFactory builds pixraw decoders.
type DecoderFactory struct{}

// NewDecoder returns the pixraw DecoderFactory.
func NewDecoder() *DecoderFactory { return &DecoderFactory{} }

func (*DecoderFactory) Name() string { return "pixraw" }

func (*DecoderFactory) Probe(first []byte) bool { return bytes.HasPrefix(first, Magic) }

func (*DecoderFactory) New(out core.PixelSink, opts core.DecodeOptions) (core.Decoder, error) {
	d := &Decoder{out: out, opts: opts, hash: blake3.New()}
	d.pixels = &utils.ChunkedWriter{Emit: out.Pixels, ChunkSize: opts.ChunkSize}
	return d, nil
}

// Decoder parses a pixraw stream as it arrives.  Bytes are held only until
// the record they belong to is complete.
type Decoder struct {
	out    core.PixelSink
	opts   core.DecodeOptions
	hash   *blake3.Hasher
	pixels *utils.ChunkedWriter

	buf       []byte
	prefixed  bool
	formatted bool
	ended     bool
}

func (d *Decoder) Write(chunk []byte) error {
	if d.ended {
		if len(chunk) > 0 {
			return corrupt("data after end record")
		}
		return nil
	}
	d.buf = append(d.buf, chunk...)

	consumed := 0
	defer func() {
		// Keep only the incomplete tail.
		if consumed > 0 {
			d.buf = append(d.buf[:0], d.buf[consumed:]...)
		}
	}()

	if !d.prefixed {
		if len(d.buf) < prefixLen {
			return nil
		}
		if !bytes.HasPrefix(d.buf, Magic) {
			return corrupt("bad magic")
		}
		if v := d.buf[len(Magic)]; v != Version {
			return corrupt("unsupported version %d", v)
		}
		d.prefixed = true
		consumed = prefixLen
	}

	for !d.ended {
		rest := d.buf[consumed:]
		if len(rest) < headerLen {
			return nil
		}
		h := parseRecordHeader(rest)
		if h.dataLen > maxRecord || h.rawLen > maxRecord {
			return corrupt("%s record of %d bytes exceeds limit", h.kind, max(h.dataLen, h.rawLen))
		}
		if len(rest) < headerLen+h.dataLen {
			return nil
		}
		raw, err := decompress(rest[headerLen:headerLen+h.dataLen], h.tag, h.rawLen)
		if err != nil {
			return corrupt("%s record: %v", h.kind, err)
		}
		if err := d.handle(h.kind, raw); err != nil {
			return err
		}
		consumed += headerLen + h.dataLen
	}
	if consumed < len(d.buf) {
		return corrupt("data after end record")
	}
	return nil
}

func (d *Decoder) handle(k kind, raw []byte) error {
	if k != kindHeader && !d.formatted {
		return corrupt("%s record before header", k)
	}
	switch k {
	case kindHeader:
		if d.formatted {
			return corrupt("second header record")
		}
		var h headerPayload
		if err := decMode.Unmarshal(raw, &h); err != nil {
			return corrupt("header: %v", err)
		}
		f := h.format()
		if d.opts.MaxPixels > 0 && int64(f.Width)*int64(f.Height) > d.opts.MaxPixels {
			return fmt.Errorf("pixraw: %w: %dx%d exceeds %d pixels", apperrors.ErrInvalidDimensions, f.Width, f.Height, d.opts.MaxPixels)
		}
		d.formatted = true
		return d.out.Format(f)

	case kindMeta:
		var m map[string]any
		if err := decMode.Unmarshal(raw, &m); err != nil {
			return corrupt("meta: %v", err)
		}
		return d.out.Meta(core.Metadata(m))

	case kindFrame:
		var p framePayload
		if err := decMode.Unmarshal(raw, &p); err != nil {
			return corrupt("frame: %v", err)
		}
		return d.out.Frame(p.frame())

	case kindPixels:
		d.hash.Write(raw)
		_, err := d.pixels.Write(raw)
		return err

	case kindEnd:
		if len(raw) != digestLen || !bytes.Equal(raw, d.hash.Sum(nil)) {
			return corrupt("pixel checksum mismatch")
		}
		d.ended = true
		return nil
	}
	return corrupt("unknown record kind %d", uint8(k))
}

// Flush fails unless the end record has been read.
func (d *Decoder) Flush() error {
	if !d.ended {
		return corrupt("truncated stream")
	}
	return nil
}

// Abort drops any partial record.
func (d *Decoder) Abort(error) { d.buf = nil }

func corrupt(format string, args ...any) error {
	return fmt.Errorf("pixraw: %w: %s", apperrors.ErrCorrupt, fmt.Sprintf(format, args...))
}

var (
	_ core.DecoderFactory = (*DecoderFactory)(nil)
	_ core.Decoder        = (*Decoder)(nil)
	_ core.Aborter        = (*Decoder)(nil)
)
