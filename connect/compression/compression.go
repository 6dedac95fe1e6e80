// Package compression implements the Connect compression registry
// (spec.md §4.3, component C3): identity and gzip codecs, looked up by
// the wire label carried in Content-Encoding / Connect-Content-Encoding.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"
)

// Well-known compression labels.
const (
	Identity = "identity"
	Gzip     = "gzip"
)

// Compressor compresses and decompresses whole payloads. Connect
// compresses per-message on streams and whole-body on unary calls, so
// the interface operates on complete byte slices rather than streams.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type identityCompressor struct{}

func (identityCompressor) Name() string                          { return Identity }
func (identityCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (identityCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// gzipCompressor compresses with a fresh gzip.Writer/Reader per call:
// spec.md §4.1 requires a fresh decompressor per compressed envelope,
// since Connect compresses each streaming message individually.
type gzipCompressor struct{}

func (gzipCompressor) Name() string { return Gzip }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}

// Registry is an immutable-after-init lookup table of compressors by
// name, matching the process-wide registry lifecycle in spec.md §3.
type Registry struct {
	mu          sync.RWMutex
	compressors map[string]Compressor
}

// NewRegistry returns a Registry preloaded with identity and gzip.
func NewRegistry() *Registry {
	r := &Registry{compressors: make(map[string]Compressor, 2)}
	r.Register(identityCompressor{})
	r.Register(gzipCompressor{})
	return r
}

// Register adds or replaces a compressor under its own Name().
func (r *Registry) Register(c Compressor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compressors[c.Name()] = c
}

// Get looks up a compressor by label. The empty string is treated as
// Identity, matching Connect's default-is-identity convention.
func (r *Registry) Get(name string) (Compressor, bool) {
	if name == "" {
		name = Identity
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.compressors[name]
	return c, ok
}

// Names returns the registered compression labels, for building the
// "Supported compression" list in unimplemented errors.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.compressors))
	for name := range r.compressors {
		names = append(names, name)
	}
	return names
}

// Default is the process-wide registry used when callers don't supply
// their own (mirrors rpc/compression.go's package-level registerCompressor).
var Default = NewRegistry()
