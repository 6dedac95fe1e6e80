package connect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Envelope flag bits (spec.md §3).
const (
	flagCompressed uint8 = 0x01
	flagEndStream  uint8 = 0x02

	envelopeHeaderSize = 5 // 1 byte flags + 4 bytes big-endian length

	// DefaultMaxEnvelopeBytes is the recommended cap on envelope length
	// (spec.md §3, "64 MiB recommended").
	DefaultMaxEnvelopeBytes = 64 << 20
)

// envelope is a single framed message or end-stream block read from or
// written to a streaming Connect body (spec.md §4.1, component C1).
type envelope struct {
	flags   uint8
	payload []byte
}

func (e envelope) compressed() bool { return e.flags&flagCompressed != 0 }
func (e envelope) endStream() bool  { return e.flags&flagEndStream != 0 }

// writeEnvelope serializes flags+payload to the 5-byte-prefixed wire
// format and writes it to w in a single call.
func writeEnvelope(w io.Writer, flags uint8, payload []byte) error {
	header := make([]byte, envelopeHeaderSize)
	header[0] = flags
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload))) //nolint:gosec // bounded by maxEnvelopeBytes at call sites
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write envelope header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write envelope payload: %w", err)
		}
	}
	return nil
}

// readEnvelope reads exactly one envelope from r. It returns io.EOF,
// unwrapped, only when the stream ends cleanly between envelopes — a
// clean EOF that arrives mid-header or mid-payload is reported as an
// invalid_argument *Error whose message carries ErrTruncatedEnvelope's
// text (spec.md §4.1 and §4.8).
func readEnvelope(r io.Reader, maxBytes int) (envelope, error) {
	header := make([]byte, envelopeHeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return envelope{}, io.EOF
		}
		return envelope{}, Errorf(CodeInvalidArgument, "%v: incomplete envelope header: %v", ErrTruncatedEnvelope, err)
	}

	length := int(binary.BigEndian.Uint32(header[1:]))
	if maxBytes > 0 && length > maxBytes {
		return envelope{}, Errorf(CodeInvalidArgument, "envelope length %d exceeds maximum %d", length, maxBytes)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return envelope{}, Errorf(CodeInvalidArgument, "%v: %v", ErrTruncatedEnvelope, err)
		}
	}

	return envelope{flags: header[0], payload: payload}, nil
}

// ErrTruncatedEnvelope names the failure when a streaming body ends in
// the middle of a frame. Its text is formatted into the message of an
// *Error with code invalid_argument; that *Error does not unwrap to it,
// so errors.Is does not match it.
var ErrTruncatedEnvelope = errors.New("connect: truncated envelope")
