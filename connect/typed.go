package connect

import (
	"context"

	"google.golang.org/protobuf/proto"
)

// Request wraps a single decoded input message with its headers and
// derived trailers (spec.md §3, "ClientRequest"), typed by generated
// message type so handlers never see `any`. For a server-streaming
// handler Trailer is nil: inbound "trailer-<name>" headers are not
// delivered to it.
type Request[T proto.Message] struct {
	Msg     T
	Header  Header
	Trailer Header
}

// Response wraps a handler's unary result. Exactly one of a returned
// (*Response[T], error) pair is meaningful, matching the invariant in
// spec.md §3 ("exactly one of (message, error) is populated").
type Response[T proto.Message] struct {
	Msg     T
	Header  Header
	Trailer Header
}

// NewResponse wraps msg with empty header/trailer maps ready for the
// handler to populate.
func NewResponse[T proto.Message](msg T) *Response[T] {
	return &Response[T]{Msg: msg, Header: Header{}, Trailer: Header{}}
}

// UnaryHandler is the signature registered with RegisterUnary.
type UnaryHandler[Req, Resp proto.Message] func(context.Context, *Request[Req]) (*Response[Resp], error)

// ServerStreamHandler is the signature registered with RegisterServerStream.
type ServerStreamHandler[Req, Resp proto.Message] func(context.Context, *Request[Req], *ServerStream[Resp]) error

// ClientStreamHandler is the signature registered with RegisterClientStream.
type ClientStreamHandler[Req, Resp proto.Message] func(context.Context, *ClientStream[Req]) (*Response[Resp], error)

// BidiStreamHandler is the signature registered with RegisterBidiStream.
type BidiStreamHandler[Req, Resp proto.Message] func(context.Context, *BidiStream[Req, Resp]) error

// ServerStream is the typed send-only handle a server-streaming or
// bidi-streaming handler uses to emit response messages
// (spec.md §3, "ServerStream").
type ServerStream[T proto.Message] struct {
	sender *serverStreamSender
}

// Send checks the deadline, then serializes, optionally compresses,
// envelopes and writes msg (spec.md §4.5, mandatory check point between
// messages).
func (s *ServerStream[T]) Send(msg T) error {
	return s.sender.send(msg)
}

// Header returns the response header map; mutate it before the first
// Send, which flushes headers to the transport.
func (s *ServerStream[T]) Header() Header { return s.sender.header }

// SetTrailer sets the trailing metadata delivered in the end-stream block.
func (s *ServerStream[T]) SetTrailer(h Header) { s.sender.trailer = h }

// Context returns the call's context, cancelled on client disconnect or
// deadline expiry (spec.md §4.5).
func (s *ServerStream[T]) Context() context.Context { return s.sender.ctx }

// ClientStream is the typed receive-only handle a client-streaming or
// bidi-streaming handler uses to read request messages
// (spec.md §3, "ClientStream").
type ClientStream[T proto.Message] struct {
	receiver *serverStreamReceiver
}

// Receive decodes the next request message, or returns io.EOF once the
// client half-closes cleanly.
func (c *ClientStream[T]) Receive() (T, error) {
	msg := newMessage[T]()
	if err := c.receiver.receive(msg); err != nil {
		var zero T
		return zero, err
	}
	return msg, nil
}

// Header returns the request headers.
func (c *ClientStream[T]) Header() Header { return c.receiver.header }

// Trailer returns trailers derived from inbound "trailer-<name>" headers
// and, as messages are received, the metadata of the end-stream block.
func (c *ClientStream[T]) Trailer() Header { return c.receiver.trailer }

// Context returns the call's context.
func (c *ClientStream[T]) Context() context.Context { return c.receiver.ctx }

// Close releases the HTTP resources backing the stream. It is safe to
// call multiple times and after the stream has already reached a
// natural end (spec.md §9, explicit release operation; P8). Callers
// that stop consuming a stream before it ends must call Close to avoid
// leaking the underlying connection.
func (c *ClientStream[T]) Close() error {
	c.receiver.close()
	return nil
}

// BidiStream combines independent send and receive directions
// (spec.md §3, "ordering guarantees ... no ordering implied across
// directions").
type BidiStream[TIn, TOut proto.Message] struct {
	in  ClientStream[TIn]
	out ServerStream[TOut]
}

func (b *BidiStream[TIn, TOut]) Receive() (TIn, error)   { return b.in.Receive() }
func (b *BidiStream[TIn, TOut]) Send(msg TOut) error     { return b.out.Send(msg) }
func (b *BidiStream[TIn, TOut]) Header() Header          { return b.out.Header() }
func (b *BidiStream[TIn, TOut]) SetTrailer(h Header)     { b.out.SetTrailer(h) }
func (b *BidiStream[TIn, TOut]) Context() context.Context { return b.out.Context() }
