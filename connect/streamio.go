package connect

import (
	"context"
	"errors"
	"io"
	"sync"

	"google.golang.org/protobuf/proto"

	"github.com/connectrt-go/connectrt/connect/codec"
	"github.com/connectrt-go/connectrt/connect/compression"
)

// serverStreamSender is the untyped engine-internal primitive behind
// ServerStream[T]: it envelopes, optionally compresses, and writes
// outbound streaming messages, then sends a single end-stream block on
// closeSend (spec.md §4.3, "StreamingFrame"/"EndStreamMessage").
type serverStreamSender struct {
	ctx    context.Context
	w      ResponseWriter
	codec  codec.Codec
	comp   compression.Compressor
	maxEnv int

	header  Header
	trailer Header
	started bool
}

func newServerStreamSender(ctx context.Context, w ResponseWriter, c codec.Codec, comp compression.Compressor, maxEnv int, header Header) *serverStreamSender {
	return &serverStreamSender{
		ctx: ctx, w: w, codec: c, comp: comp, maxEnv: maxEnv,
		header: header, trailer: Header{},
	}
}

func (s *serverStreamSender) startLocked(status int) {
	if s.started {
		return
	}
	s.started = true
	s.w.Start(status, s.header)
}

func (s *serverStreamSender) send(msg proto.Message) error {
	if err := checkDeadline(s.ctx); err != nil {
		return err
	}
	s.startLocked(httpStatusOK)

	payload, err := s.codec.Marshal(msg)
	if err != nil {
		return Errorf(CodeInternal, "marshal message: %v", err)
	}

	flags := uint8(0)
	if s.comp != nil && s.comp.Name() != compression.Identity {
		compressed, err := s.comp.Compress(payload)
		if err != nil {
			return Errorf(CodeInternal, "compress message: %v", err)
		}
		payload = compressed
		flags |= flagCompressed
	}
	if s.maxEnv > 0 && len(payload) > s.maxEnv {
		return Errorf(CodeResourceExhausted, "message size %d exceeds max envelope size %d", len(payload), s.maxEnv)
	}
	if err := writeEnvelope(s.w, flags, payload); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// closeSend writes the terminal end-stream envelope carrying trailers
// and, if non-nil, the call's final error (spec.md §4.3: "exactly one
// EndStreamMessage ... always uncompressed").
func (s *serverStreamSender) closeSend(callErr error) error {
	// Streaming responses are always HTTP 200; the call's outcome rides
	// in the end-stream block, never the status line (spec.md §4.3).
	s.startLocked(httpStatusOK)

	var connErr *Error
	if callErr != nil {
		var ok bool
		connErr, ok = AsError(callErr)
		if !ok {
			connErr = NewError(CodeUnknown, callErr.Error())
		}
	}
	body, err := marshalEndStream(s.trailer, connErr)
	if err != nil {
		return err
	}
	if err := writeEnvelope(s.w, flagEndStream, body); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

const httpStatusOK = 200

// serverStreamReceiver is the untyped engine-internal primitive behind
// ClientStream[T]: it reads and decodes inbound streaming envelopes
// (spec.md §4.3, "StreamingFrame").
type serverStreamReceiver struct {
	ctx      context.Context
	r        io.Reader
	closer   io.Closer // non-nil only on the client side, where the body is an *http.Response.Body
	closeOne sync.Once
	codec    codec.Codec
	comp     compression.Compressor
	maxEnv   int
	header   Header
	trailer  Header
}

func newServerStreamReceiver(ctx context.Context, r io.Reader, c codec.Codec, comp compression.Compressor, maxEnv int, header, trailer Header) *serverStreamReceiver {
	return &serverStreamReceiver{ctx: ctx, r: r, codec: c, comp: comp, maxEnv: maxEnv, header: header, trailer: trailer}
}

// receive decodes the next message. On a clean end of stream it merges
// any trailers carried in the end-stream block into r.trailer and
// returns io.EOF, or the call's terminal *Error if the end-stream block
// carried one (spec.md §4.3/§4.4).
func (r *serverStreamReceiver) receive(msg proto.Message) error {
	if err := checkDeadline(r.ctx); err != nil {
		return err
	}
	env, err := readEnvelope(r.r, r.maxEnv)
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.close()
		}
		return err
	}
	if env.endStream() {
		trailers, callErr, err := unmarshalEndStream(env.payload)
		if err != nil {
			r.close()
			return err
		}
		for k, v := range trailers {
			r.trailer[k] = append(r.trailer[k], v...)
		}
		r.close()
		if callErr != nil {
			return callErr
		}
		return io.EOF
	}
	payload := env.payload
	if env.compressed() {
		if r.comp == nil {
			return Errorf(CodeInvalidArgument, "received compressed envelope without a negotiated compressor")
		}
		if r.comp.Name() == compression.Identity {
			return Errorf(CodeInvalidArgument, "received compressed envelope under identity compression")
		}
		payload, err = r.comp.Decompress(payload)
		if err != nil {
			return Errorf(CodeInvalidArgument, "decompress message: %v", err)
		}
	}
	if err := r.codec.Unmarshal(payload, msg); err != nil {
		return Errorf(CodeInvalidArgument, "unmarshal message: %v", err)
	}
	return nil
}

// close releases the underlying HTTP response body exactly once, no
// matter how many termination paths call it (spec.md §9, "release ...
// must be safe [to call] multiple times"; P8).
func (r *serverStreamReceiver) close() {
	if r.closer == nil {
		return
	}
	r.closeOne.Do(func() {
		_ = r.closer.Close()
	})
}
