package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// bufPool reuses byte buffers to reduce GC pressure.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns a reset buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// ReleaseBuffer returns b to the pool.  Callers must not use b after this call.
func ReleaseBuffer(b *bytes.Buffer) {
	// Cap large buffers to avoid pinning excessive memory.
	if b.Cap() > 8*1024*1024 {
		return
	}
	bufPool.Put(b)
}

// CopyChunks reads r in chunkSize pieces and writes each piece to w until
// EOF.  The first Write receives the first chunk in full, which is what
// probing decoders look at.  It checks ctx between chunks.
func CopyChunks(ctx context.Context, w io.Writer, r io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	chunk := make([]byte, chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		// Fill the chunk so that short reads do not starve the probe.
		n, err := io.ReadFull(r, chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// LimitedReader wraps r and returns an error when more than max bytes are read.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.Max > 0 && l.n >= l.Max {
		// At the limit: input of exactly Max bytes is fine, one more is not.
		var probe [1]byte
		n, err := l.R.Read(probe[:])
		if n > 0 {
			return 0, ErrInputTooLarge
		}
		return 0, err
	}
	if l.Max > 0 {
		remain := l.Max - l.n
		if int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	return n, err
}

// ErrInputTooLarge is returned by LimitedReader once Max bytes were read.
var ErrInputTooLarge = errors.New("input exceeds size limit")

// ChunkedWriter splits writes into fixed-size chunks; decoders use it to
// emit pixel data in bounded pieces.
type ChunkedWriter struct {
	Emit      func([]byte) error
	ChunkSize int
}

func (c *ChunkedWriter) Write(p []byte) (int, error) {
	size := c.ChunkSize
	if size <= 0 {
		size = 32 * 1024
	}
	total := 0
	for len(p) > 0 {
		end := size
		if end > len(p) {
			end = len(p)
		}
		if err := c.Emit(p[:end]); err != nil {
			return total, err
		}
		total += end
		p = p[end:]
	}
	return total, nil
}
