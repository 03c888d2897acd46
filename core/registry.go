package core

import (
	"slices"
	"sync"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry.  Decoders are
// kept in registration order, which decides probe ties.
type DefaultRegistry struct {
	mu       sync.RWMutex
	decoders []DecoderFactory
	encoders map[string]EncoderFactory
}

// Default is the process-wide registry used by the package-level API.
var Default = NewRegistry()

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		encoders: make(map[string]EncoderFactory),
	}
}

func (r *DefaultRegistry) RegisterDecoder(d DecoderFactory) {
	r.mu.Lock()
	r.decoders = append(r.decoders, d)
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterEncoder(key string, e EncoderFactory) {
	r.mu.Lock()
	r.encoders[key] = e
	r.mu.Unlock()
}

// FindDecoder returns the first registered decoder whose probe accepts first.
func (r *DefaultRegistry) FindDecoder(first []byte) (DecoderFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.decoders {
		if d.Probe(first) {
			return d, true
		}
	}
	return nil, false
}

func (r *DefaultRegistry) FindEncoder(key string) (EncoderFactory, bool) {
	r.mu.RLock()
	e, ok := r.encoders[key]
	r.mu.RUnlock()
	return e, ok
}

// Use registers whatever c carries.  A codec without a decoder registers no
// decoder; an encoder without a format key is ignored.
func (r *DefaultRegistry) Use(c Codec) {
	if c.Decoder != nil {
		r.RegisterDecoder(c.Decoder)
	}
	if c.Encoder != nil && c.Format != "" {
		r.RegisterEncoder(c.Format, c.Encoder)
	}
}

// Decoders returns the decoder names in probe order.
func (r *DefaultRegistry) Decoders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.decoders))
	for _, d := range r.decoders {
		names = append(names, d.Name())
	}
	return names
}

// Encoders returns the sorted encoder keys.
func (r *DefaultRegistry) Encoders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.encoders))
	for k := range r.encoders {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var _ Registry = (*DefaultRegistry)(nil)
