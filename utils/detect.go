package utils

import (
	"bytes"
	"net/http"
)

// MIME types of the formats the built-in plugins understand.
const (
	MIMEJPEG    = "image/jpeg"
	MIMEPNG     = "image/png"
	MIMEGIF     = "image/gif"
	MIMEBMP     = "image/bmp"
	MIMETIFF    = "image/tiff"
	MIMEWebP    = "image/webp"
	MIMEAVIF    = "image/avif"
	MIMEHEIF    = "image/heif"
	MIMEPixraw  = "image/x-pixraw"
	MIMEUnknown = "application/octet-stream"
)

var (
	magicJPEG   = []byte{0xFF, 0xD8, 0xFF}
	magicPNG    = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	magicGIF87  = []byte("GIF87a")
	magicGIF89  = []byte("GIF89a")
	magicBMP    = []byte("BM")
	magicTIFFLE = []byte{'I', 'I', 0x2A, 0x00}
	magicTIFFBE = []byte{'M', 'M', 0x00, 0x2A}
	magicPixraw = []byte("PXRW")
)

// DetectFormat sniffs the leading bytes of data and returns the MIME type.
func DetectFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, magicJPEG):
		return MIMEJPEG
	case bytes.HasPrefix(data, magicPNG):
		return MIMEPNG
	case bytes.HasPrefix(data, magicGIF87), bytes.HasPrefix(data, magicGIF89):
		return MIMEGIF
	case bytes.HasPrefix(data, magicTIFFLE), bytes.HasPrefix(data, magicTIFFBE):
		return MIMETIFF
	case bytes.HasPrefix(data, magicPixraw):
		return MIMEPixraw
	case IsWebP(data):
		return MIMEWebP
	case IsISOBMFF(data, "avif", "avis"):
		return MIMEAVIF
	case IsISOBMFF(data, "heic", "heix", "mif1", "msf1"):
		return MIMEHEIF
	// BMP has a two byte magic; check it after the longer signatures.
	case len(data) >= 14 && bytes.HasPrefix(data, magicBMP):
		return MIMEBMP
	}
	// Fallback to net/http sniffing.
	switch ct := http.DetectContentType(data); ct {
	case MIMEJPEG, MIMEPNG, MIMEGIF, MIMEBMP, MIMEWebP:
		return ct
	}
	return MIMEUnknown
}

// IsWebP reports whether data starts with a RIFF....WEBP header.
func IsWebP(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP"))
}

// IsISOBMFF reports whether data starts with an ftyp box whose major brand
// is one of brands.
func IsISOBMFF(data []byte, brands ...string) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	major := string(data[8:12])
	for _, b := range brands {
		if major == b {
			return true
		}
	}
	return false
}

// ExtensionFor maps a MIME type to its usual file extension.
func ExtensionFor(mime string) string {
	switch mime {
	case MIMEJPEG:
		return ".jpg"
	case MIMEPNG:
		return ".png"
	case MIMEGIF:
		return ".gif"
	case MIMEBMP:
		return ".bmp"
	case MIMETIFF:
		return ".tiff"
	case MIMEWebP:
		return ".webp"
	case MIMEAVIF:
		return ".avif"
	case MIMEHEIF:
		return ".heic"
	case MIMEPixraw:
		return ".pxrw"
	}
	return ".bin"
}

// MIMEFor maps a file extension (with or without the dot) or a MIME type to
// a MIME type.  Unknown input is returned unchanged.
func MIMEFor(s string) string {
	switch s {
	case "jpg", ".jpg", "jpeg", ".jpeg":
		return MIMEJPEG
	case "png", ".png":
		return MIMEPNG
	case "gif", ".gif":
		return MIMEGIF
	case "bmp", ".bmp":
		return MIMEBMP
	case "tif", ".tif", "tiff", ".tiff":
		return MIMETIFF
	case "webp", ".webp":
		return MIMEWebP
	case "avif", ".avif":
		return MIMEAVIF
	case "heic", ".heic", "heif", ".heif":
		return MIMEHEIF
	case "pxrw", ".pxrw", "pixraw":
		return MIMEPixraw
	}
	return s
}
