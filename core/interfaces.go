package core

import "io"

// PixelSink consumes a decoded pixel stream.  Calls arrive in order: one
// Format, then any mix of Meta, Frame and Pixels, then End.  A returned
// error is terminal for the session.
type PixelSink interface {
	Format(f PixelFormat) error
	Meta(m Metadata) error
	Frame(f Frame) error
	Pixels(p []byte) error
	// End signals end of input and returns once the sink has flushed.
	End() error
}

// Decoder is a bound decoder plugin instance.  It parses bytes written to
// it and reports everything it finds to the sink it was created with.
// Implementations live in adapters/.
type Decoder interface {
	Write(chunk []byte) error
	// Flush is called once at end of input.  Emit anything still buffered
	// before returning; the caller ends the sink afterwards.
	Flush() error
}

// DecoderFactory describes a decoder plugin.
type DecoderFactory interface {
	Name() string
	// Probe reports whether the plugin understands a stream starting with
	// first.  It must not retain first.
	Probe(first []byte) bool
	New(out PixelSink, opts DecodeOptions) (Decoder, error)
}

// Encoder is a bound encoder plugin instance.  Encoded bytes go to the
// writer passed to its factory.
type Encoder interface {
	PixelSink
}

// ColorSpaceLister is implemented by encoders that declare the color spaces
// they accept, ordered by preference.  Encoders without it accept rgb only.
type ColorSpaceLister interface {
	SupportedColorSpaces() []ColorSpace
}

// EncoderFactory describes an encoder plugin.
type EncoderFactory interface {
	Name() string
	New(out io.Writer, opts EncodeOptions) (Encoder, error)
}

// Aborter is implemented by plugins that hold resources which must be
// released when the caller tears a session down early.
type Aborter interface {
	Abort(err error)
}

// MetricsCollector receives session observations.
type MetricsCollector interface {
	RecordSession(kind SessionKind, plugin string, stats SessionStats)
	RecordError(kind SessionKind, plugin string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Hook is an optional observer of session lifecycle transitions.
type Hook interface {
	// Bound fires when a session has selected its plugin.
	Bound(kind SessionKind, plugin string)
	// Negotiated fires once an encode session has planned its stage chain.
	Negotiated(plugin string, in PixelFormat, plan Plan)
	// Finished fires exactly once when a session ends or fails.
	Finished(kind SessionKind, plugin string, stats SessionStats, err error)
}

// Registry holds the decoder list and the encoder map.
type Registry interface {
	RegisterDecoder(d DecoderFactory)
	RegisterEncoder(key string, e EncoderFactory)
	FindDecoder(first []byte) (DecoderFactory, bool)
	FindEncoder(key string) (EncoderFactory, bool)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
