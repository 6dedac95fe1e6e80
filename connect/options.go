package connect

import (
	"go.uber.org/zap"

	"github.com/connectrt-go/connectrt/connect/codec"
	"github.com/connectrt-go/connectrt/connect/compression"
)

// ServerOption configures a Server at construction time, mirroring the
// teacher's functional-options ServiceOption pattern.
type ServerOption func(*Server)

// WithLogger sets the structured logger used for handler error/panic
// reporting. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		if logger == nil {
			logger = nopLogger()
		}
		s.logger = logger
	}
}

// WithCodecs overrides the codec registry consulted during content-type
// negotiation. Defaults to codec.Default (proto + canonical JSON).
func WithCodecs(reg *codec.Registry) ServerOption {
	return func(s *Server) { s.codecs = reg }
}

// WithCompressors overrides the compression registry consulted during
// Content-Encoding negotiation. Defaults to compression.Default
// (identity + gzip).
func WithCompressors(reg *compression.Registry) ServerOption {
	return func(s *Server) { s.compressors = reg }
}

// WithMaxEnvelopeBytes bounds the on-wire size of any single envelope
// payload (or unary request body) the server will accept or emit; a
// compressed payload is measured before decompression (spec.md §4.2,
// "maximum message size enforcement").
func WithMaxEnvelopeBytes(n int) ServerOption {
	return func(s *Server) { s.maxEnvelopeBytes = n }
}

// WithRequireProtocolVersion controls whether a missing
// Connect-Protocol-Version header is rejected outright; a present value
// other than "1" is rejected either way. The original
// Python implementation runs in a tolerant mode by default (the header
// is validated when present but not required); set true for strict
// enforcement. This is a supplemented feature, not present in the
// distilled behavior description.
func WithRequireProtocolVersion(require bool) ServerOption {
	return func(s *Server) { s.requireProtocolVersion = require }
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientLogger sets the client's structured logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithClientCodec selects the codec used to encode requests and decode
// responses. Defaults to the protobuf binary codec.
func WithClientCodec(c codec.Codec) ClientOption {
	return func(cl *Client) { cl.codec = c }
}

// WithClientCompressor selects the compressor applied to outbound
// envelopes and advertised via Content-Encoding / Connect-Content-Encoding.
// Defaults to identity (no compression).
func WithClientCompressor(c compression.Compressor) ClientOption {
	return func(cl *Client) { cl.compressor = c }
}

// WithClientMaxEnvelopeBytes bounds the on-wire size of any single
// envelope payload the client will accept; a compressed payload is
// measured before decompression.
func WithClientMaxEnvelopeBytes(n int) ClientOption {
	return func(cl *Client) { cl.maxEnvelopeBytes = n }
}
