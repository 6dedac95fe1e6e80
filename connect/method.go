package connect

import (
	"context"

	"google.golang.org/protobuf/proto"
)

// unaryFunc is the engine-internal, untyped unary handler a registered
// method dispatches to. The returned Header values are, in order, the
// response header and response trailer.
type unaryFunc func(ctx context.Context, msg proto.Message, header, trailer Header) (proto.Message, Header, Header, error)

// serverStreamFunc is the engine-internal server-streaming handler.
type serverStreamFunc func(ctx context.Context, msg proto.Message, header Header, sender *serverStreamSender) error

// clientStreamFunc is the engine-internal client-streaming handler.
type clientStreamFunc func(ctx context.Context, receiver *serverStreamReceiver) (proto.Message, Header, Header, error)

// bidiStreamFunc is the engine-internal bidi-streaming handler.
type bidiStreamFunc func(ctx context.Context, receiver *serverStreamReceiver, sender *serverStreamSender) error

// method is the server-side registration record: a path is bound to
// exactly one Shape and one untyped handler closure, matching spec.md
// §4.7's "registry maps path -> (rpc_type, input_type, handler)".
type method struct {
	shape      Shape
	newRequest func() proto.Message // allocates a fresh, zero-valued input message

	unary        unaryFunc
	serverStream serverStreamFunc
	clientStream clientStreamFunc
	bidiStream   bidiStreamFunc
}

// RegisterUnary binds path to a typed unary handler, closing over the
// untyped dispatch signature the engine actually calls. Grounded on the
// teacher's rpc.NewMethod[TIn, TOut] registration generics.
func RegisterUnary[Req, Resp proto.Message](s *Server, path string, h UnaryHandler[Req, Resp]) error {
	m := &method{
		shape:      Unary,
		newRequest: func() proto.Message { return newMessage[Req]() },
		unary: func(ctx context.Context, msg proto.Message, header, trailer Header) (proto.Message, Header, Header, error) {
			req := &Request[Req]{Msg: msg.(Req), Header: header, Trailer: trailer}
			resp, err := h(ctx, req)
			if err != nil {
				return nil, nil, nil, err
			}
			return resp.Msg, resp.Header, resp.Trailer, nil
		},
	}
	return s.register(path, m)
}

// RegisterServerStream binds path to a typed server-streaming handler.
func RegisterServerStream[Req, Resp proto.Message](s *Server, path string, h ServerStreamHandler[Req, Resp]) error {
	m := &method{
		shape:      ServerStream,
		newRequest: func() proto.Message { return newMessage[Req]() },
		serverStream: func(ctx context.Context, msg proto.Message, header Header, sender *serverStreamSender) error {
			req := &Request[Req]{Msg: msg.(Req), Header: header}
			stream := &ServerStream[Resp]{sender: sender}
			return h(ctx, req, stream)
		},
	}
	return s.register(path, m)
}

// RegisterClientStream binds path to a typed client-streaming handler.
func RegisterClientStream[Req, Resp proto.Message](s *Server, path string, h ClientStreamHandler[Req, Resp]) error {
	m := &method{
		shape: ClientStream,
		clientStream: func(ctx context.Context, receiver *serverStreamReceiver) (proto.Message, Header, Header, error) {
			stream := &ClientStream[Req]{receiver: receiver}
			resp, err := h(ctx, stream)
			if err != nil {
				return nil, nil, nil, err
			}
			return resp.Msg, resp.Header, resp.Trailer, nil
		},
	}
	return s.register(path, m)
}

// RegisterBidiStream binds path to a typed bidi-streaming handler.
func RegisterBidiStream[Req, Resp proto.Message](s *Server, path string, h BidiStreamHandler[Req, Resp]) error {
	m := &method{
		shape: BidiStream,
		bidiStream: func(ctx context.Context, receiver *serverStreamReceiver, sender *serverStreamSender) error {
			stream := &BidiStream[Req, Resp]{
				in:  ClientStream[Req]{receiver: receiver},
				out: ServerStream[Resp]{sender: sender},
			}
			return h(ctx, stream)
		},
	}
	return s.register(path, m)
}
