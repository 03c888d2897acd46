// Package pixraw implements image/x-pixraw, a lossless container for pixel
// streams.  Unlike the buffered raster plugins, its decoder and encoder
// work record by record and never hold more than one record in memory.
//
// Layout:
//
//	"PXRW" version:u8
//	record*  kind:u8 tag:u8 rawLen:u32be dataLen:u32be data[dataLen]
//
// Record kinds are header (CBOR pixel format), meta (CBOR map), frame (CBOR
// frame), pixels (raw pixel bytes) and end (BLAKE3-256 of every pixel byte).
// tag is the Compression of data; rawLen is its decompressed size.
package pixraw

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Skryldev/imagestream/core"
)

// Magic starts every pixraw stream.
var Magic = []byte("PXRW")

// Version is the container version written and accepted.
const Version = 1

const (
	prefixLen  = 5  // magic + version
	headerLen  = 10 // kind, tag, rawLen, dataLen
	digestLen  = 32
	blockSize  = 64 << 10
	maxRecord  = 64 << 20
	minPayload = 64 // smaller records are stored uncompressed
)

type kind uint8

const (
	kindHeader kind = 1
	kindMeta   kind = 2
	kindFrame  kind = 3
	kindPixels kind = 4
	kindEnd    kind = 5
)

func (k kind) String() string {
	switch k {
	case kindHeader:
		return "header"
	case kindMeta:
		return "meta"
	case kindFrame:
		return "frame"
	case kindPixels:
		return "pixels"
	case kindEnd:
		return "end"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

type recordHeader struct {
	kind    kind
	tag     Compression
	rawLen  int
	dataLen int
}

func (h recordHeader) put(dst []byte) {
	dst[0] = byte(h.kind)
	dst[1] = byte(h.tag)
	binary.BigEndian.PutUint32(dst[2:6], uint32(h.rawLen))
	binary.BigEndian.PutUint32(dst[6:10], uint32(h.dataLen))
}

func parseRecordHeader(src []byte) recordHeader {
	return recordHeader{
		kind:    kind(src[0]),
		tag:     Compression(src[1]),
		rawLen:  int(binary.BigEndian.Uint32(src[2:6])),
		dataLen: int(binary.BigEndian.Uint32(src[6:10])),
	}
}

// ── Record payloads ───────────────────────────────────────────────────────────

type headerPayload struct {
	Width      int        `cbor:"w"`
	Height     int        `cbor:"h"`
	ColorSpace string     `cbor:"cs"`
	Palette    [][4]uint8 `cbor:"p,omitempty"`
}

type framePayload struct {
	Index int            `cbor:"i"`
	Delay int64          `cbor:"d,omitempty"` // nanoseconds
	Meta  map[string]any `cbor:"m,omitempty"`
}

func newHeaderPayload(f core.PixelFormat) headerPayload {
	h := headerPayload{Width: f.Width, Height: f.Height, ColorSpace: string(f.ColorSpace)}
	for _, c := range f.Palette {
		r, g, b, a := c.RGBA()
		h.Palette = append(h.Palette, [4]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)})
	}
	return h
}

func (h headerPayload) format() core.PixelFormat {
	f := core.PixelFormat{Width: h.Width, Height: h.Height, ColorSpace: core.ColorSpace(h.ColorSpace)}
	if len(h.Palette) > 0 {
		f.Palette = make(color.Palette, len(h.Palette))
		for i, c := range h.Palette {
			f.Palette[i] = color.RGBA{R: c[0], G: c[1], B: c[2], A: c[3]}
		}
	}
	return f
}

func newFramePayload(f core.Frame) framePayload {
	return framePayload{Index: f.Index, Delay: int64(f.Delay), Meta: f.Meta}
}

func (p framePayload) frame() core.Frame {
	return core.Frame{Index: p.Index, Delay: time.Duration(p.Delay), Meta: p.Meta}
}

// ── CBOR modes ────────────────────────────────────────────────────────────────

// encMode uses Core Deterministic Encoding so equal inputs give equal files.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("pixraw: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("pixraw: CBOR decoder initialization failed: " + err.Error())
	}
}
