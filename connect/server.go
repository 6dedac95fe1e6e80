package connect

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/connectrt-go/connectrt/connect/codec"
	"github.com/connectrt-go/connectrt/connect/compression"
)

const (
	protocolVersionHeader = "Connect-Protocol-Version"
	protocolVersion       = "1"

	contentTypeHeader     = "Content-Type"
	contentEncodingHeader = "Content-Encoding"
	streamEncodingHeader  = "Connect-Content-Encoding"
)

// Server is the Connect RPC dispatch engine: it owns a registry of
// methods keyed by path and implements the full per-request state
// machine against the abstract Request/ResponseWriter transport
// contract (spec.md §4.7, component C8). It never touches net/http's
// request or response-writer types; adapters in package adapter bridge
// a concrete transport to it.
type Server struct {
	mu      sync.RWMutex
	methods map[string]*method

	codecs                 *codec.Registry
	compressors            *compression.Registry
	logger                 *zap.Logger
	maxEnvelopeBytes       int
	requireProtocolVersion bool
}

// NewServer constructs an empty Server; bind methods with RegisterUnary
// and friends before serving traffic.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		methods:          map[string]*method{},
		codecs:           codec.Default,
		compressors:      compression.Default,
		logger:           nopLogger(),
		maxEnvelopeBytes: DefaultMaxEnvelopeBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) register(path string, m *method) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.methods[path]; exists {
		return fmt.Errorf("connect: method already registered for path %q", path)
	}
	s.methods[path] = m
	return nil
}

func (s *Server) lookup(path string) (*method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[path]
	return m, ok
}

// ServeConnect dispatches a single request: route -> validate -> decode
// -> invoke -> encode, per spec.md §4.7's state machine
// (START -> VALIDATE_METHOD -> ROUTE -> VALIDATE_HEADERS -> DISPATCH ->
// WRITE_RESPONSE -> DONE). Errors before DISPATCH that have no
// Connect-shaped recipient yet (unknown route, wrong HTTP method) are
// answered with a bare HTTP status instead of a Connect error envelope.
func (s *Server) ServeConnect(w ResponseWriter, r RequestReader) {
	if r.Method() != "POST" {
		w.Start(405, Header{"Allow": []string{"POST"}})
		return
	}

	m, ok := s.lookup(r.Path())
	if !ok {
		w.Start(404, Header{})
		return
	}

	if got := r.Header().Get(protocolVersionHeader); got != "" && got != protocolVersion {
		s.writeUnaryError(w, Errorf(CodeInvalidArgument, "unsupported %s: %q", protocolVersionHeader, got))
		return
	} else if got == "" && s.requireProtocolVersion {
		s.writeUnaryError(w, Errorf(CodeInvalidArgument, "missing required header %s", protocolVersionHeader))
		return
	}

	streaming := m.shape != Unary
	c, comp, negErr := s.negotiate(r.Header(), streaming)
	if negErr != nil {
		if negErr.unsupportedMediaType {
			header := Header{}
			if streaming {
				header.Set("Accept-Post", "application/connect+json, application/connect+proto")
			} else {
				header.Set("Accept-Post", "application/json, application/proto")
			}
			w.Start(415, header)
			return
		}
		s.respondError(w, m.shape, c, negErr.err)
		return
	}

	ctx, cancel, expired, err := withDeadline(r.Context(), r.Header().Get(TimeoutHeader))
	if cancel != nil {
		defer cancel()
	}
	if err != nil {
		s.respondError(w, m.shape, c, err)
		return
	}
	if expired {
		s.respondError(w, m.shape, c, NewError(CodeDeadlineExceeded, "deadline already expired"))
		return
	}

	header, trailer := splitTrailers(r.Header())

	defer func() {
		if rec := recover(); rec != nil {
			logHandlerPanic(s.logger, r.Path(), rec)
			s.respondError(w, m.shape, c, NewError(CodeInternal, "internal error"))
		}
	}()

	switch m.shape {
	case Unary:
		s.dispatchUnary(ctx, w, r, m, c, comp, header, trailer)
	case ServerStream:
		s.dispatchServerStream(ctx, w, r, m, c, comp, header)
	case ClientStream:
		s.dispatchClientStream(ctx, w, r, m, c, comp, header, trailer)
	case BidiStream:
		s.dispatchBidiStream(ctx, w, r, m, c, comp, header, trailer)
	}
}

// negotiateError distinguishes a bare-HTTP 415 rejection (wrong content-type
// family entirely) from a Connect-shaped "unimplemented" rejection (right
// family, unsupported subtype or compression), per spec.md §4.7's
// content-type validation rules.
type negotiateError struct {
	unsupportedMediaType bool
	err                  error
}

func (s *Server) negotiate(header Header, streaming bool) (codec.Codec, compression.Compressor, *negotiateError) {
	contentType := header.Get(contentTypeHeader)
	if !streaming {
		c, ok := s.codecs.ByContentType(contentType)
		if !ok || strings.HasPrefix(contentType, "application/connect+") {
			return nil, nil, &negotiateError{unsupportedMediaType: true}
		}
		comp, cErr := s.negotiateCompression(header, contentEncodingHeader)
		if cErr != nil {
			return nil, nil, cErr
		}
		return c, comp, nil
	}

	if !strings.HasPrefix(contentType, "application/connect+") {
		return nil, nil, &negotiateError{unsupportedMediaType: true}
	}
	c, ok := s.codecs.ByContentType(contentType)
	if !ok {
		return nil, nil, &negotiateError{err: Errorf(CodeUnimplemented, "unsupported Content-Type %q", contentType)}
	}
	comp, cErr := s.negotiateCompression(header, streamEncodingHeader)
	if cErr != nil {
		return nil, nil, cErr
	}
	return c, comp, nil
}

func (s *Server) negotiateCompression(header Header, encodingHeader string) (compression.Compressor, *negotiateError) {
	name := header.Get(encodingHeader)
	comp, ok := s.compressors.Get(name)
	if !ok {
		return nil, &negotiateError{err: Errorf(CodeUnimplemented, "unknown compression %q; supported: %s", name, strings.Join(s.compressors.Names(), ", "))}
	}
	return comp, nil
}

func (s *Server) dispatchUnary(ctx context.Context, w ResponseWriter, r RequestReader, m *method, c codec.Codec, comp compression.Compressor, header, trailer Header) {
	payload, err := io.ReadAll(io.LimitReader(r.Body(), int64(s.maxEnvelopeBytes)+1))
	if err != nil {
		s.respondError(w, Unary, c, Errorf(CodeUnknown, "read request body: %v", err))
		return
	}
	if s.maxEnvelopeBytes > 0 && len(payload) > s.maxEnvelopeBytes {
		s.respondError(w, Unary, c, Errorf(CodeResourceExhausted, "request body exceeds max size %d", s.maxEnvelopeBytes))
		return
	}
	if comp.Name() != compression.Identity {
		payload, err = comp.Decompress(payload)
		if err != nil {
			s.respondError(w, Unary, c, Errorf(CodeInvalidArgument, "decompress request: %v", err))
			return
		}
	}
	msg := m.newRequest()
	if err := c.Unmarshal(payload, msg); err != nil {
		s.respondError(w, Unary, c, Errorf(CodeInvalidArgument, "unmarshal request: %v", err))
		return
	}

	respMsg, respHeader, respTrailer, err := m.unary(ctx, msg, header, trailer)
	if err != nil {
		logHandlerError(s.logger, r.Path(), err)
		s.respondError(w, Unary, c, err)
		return
	}

	out, err := c.Marshal(respMsg)
	if err != nil {
		s.respondError(w, Unary, c, Errorf(CodeInternal, "marshal response: %v", err))
		return
	}
	if comp.Name() != compression.Identity {
		out, err = comp.Compress(out)
		if err != nil {
			s.respondError(w, Unary, c, Errorf(CodeInternal, "compress response: %v", err))
			return
		}
	}
	outHeader := cloneHeader(respHeader)
	if outHeader == nil {
		outHeader = Header{}
	}
	outHeader.Set(contentTypeHeader, c.UnaryContentType())
	if comp.Name() != compression.Identity {
		outHeader.Set(contentEncodingHeader, comp.Name())
	}
	mergeTrailers(outHeader, respTrailer)
	w.Start(200, outHeader)
	_, _ = w.Write(out)
	w.Flush()
}

// dispatchServerStream's request body is, per the protocol, a single
// flags=0 envelope rather than a bare unary body (spec.md §4.6,
// "Serialize single request into a single flags=0 envelope").
func (s *Server) dispatchServerStream(ctx context.Context, w ResponseWriter, r RequestReader, m *method, c codec.Codec, comp compression.Compressor, header Header) {
	env, err := readEnvelope(r.Body(), s.maxEnvelopeBytes)
	if err != nil {
		s.respondError(w, ServerStream, c, err)
		return
	}
	payload := env.payload
	if env.compressed() {
		payload, err = comp.Decompress(payload)
		if err != nil {
			s.respondError(w, ServerStream, c, Errorf(CodeInvalidArgument, "decompress request: %v", err))
			return
		}
	}
	msg := m.newRequest()
	if err := c.Unmarshal(payload, msg); err != nil {
		s.respondError(w, ServerStream, c, Errorf(CodeInvalidArgument, "unmarshal request: %v", err))
		return
	}

	respHeader := Header{contentTypeHeader: []string{c.StreamingContentType()}}
	if comp.Name() != compression.Identity {
		respHeader.Set(streamEncodingHeader, comp.Name())
	}
	sender := newServerStreamSender(ctx, w, c, comp, s.maxEnvelopeBytes, respHeader)
	callErr := m.serverStream(ctx, msg, header, sender)
	if callErr != nil {
		logHandlerError(s.logger, r.Path(), callErr)
	}
	_ = sender.closeSend(callErr)
}

// dispatchClientStream's response is, per the protocol, framed exactly
// like a server-streaming response: one enveloped application message
// followed by the end-stream block — never a bare unary body (spec.md
// §4.6, "exactly one application message in the response stream
// followed by the end-stream block").
func (s *Server) dispatchClientStream(ctx context.Context, w ResponseWriter, r RequestReader, m *method, c codec.Codec, comp compression.Compressor, header, trailer Header) {
	receiver := newServerStreamReceiver(ctx, r.Body(), c, comp, s.maxEnvelopeBytes, header, trailer)

	respHeader := Header{contentTypeHeader: []string{c.StreamingContentType()}}
	if comp.Name() != compression.Identity {
		respHeader.Set(streamEncodingHeader, comp.Name())
	}
	sender := newServerStreamSender(ctx, w, c, comp, s.maxEnvelopeBytes, respHeader)

	respMsg, handlerHeader, respTrailer, err := m.clientStream(ctx, receiver)
	for k, v := range handlerHeader {
		if _, reserved := respHeader[k]; !reserved {
			respHeader[k] = v
		}
	}
	if err != nil {
		logHandlerError(s.logger, r.Path(), err)
		sender.trailer = respTrailer
		_ = sender.closeSend(err)
		return
	}
	if sendErr := sender.send(respMsg); sendErr != nil {
		_ = sender.closeSend(sendErr)
		return
	}
	sender.trailer = respTrailer
	_ = sender.closeSend(nil)
}

func (s *Server) dispatchBidiStream(ctx context.Context, w ResponseWriter, r RequestReader, m *method, c codec.Codec, comp compression.Compressor, header, trailer Header) {
	respHeader := Header{contentTypeHeader: []string{c.StreamingContentType()}}
	if comp.Name() != compression.Identity {
		respHeader.Set(streamEncodingHeader, comp.Name())
	}
	receiver := newServerStreamReceiver(ctx, r.Body(), c, comp, s.maxEnvelopeBytes, header, trailer)
	sender := newServerStreamSender(ctx, w, c, comp, s.maxEnvelopeBytes, respHeader)
	callErr := m.bidiStream(ctx, receiver, sender)
	if callErr != nil {
		logHandlerError(s.logger, r.Path(), callErr)
	}
	_ = sender.closeSend(callErr)
}

// respondError writes a call-level failure in the shape appropriate to
// the method's interaction shape: a Connect error envelope with a
// code-derived HTTP status for unary calls, or an end-stream block atop
// an HTTP 200 for any streaming shape (spec.md §4.4). c is the codec
// negotiate resolved for this call, if any; a pre-dispatch streaming
// failure that never got that far (an unsupported Content-Type subtype)
// passes nil and falls back to JSON, the only family it's certain the
// peer can decode.
func (s *Server) respondError(w ResponseWriter, shape Shape, c codec.Codec, err error) {
	if shape == Unary {
		s.writeUnaryError(w, err)
		return
	}
	ce, ok := AsError(err)
	if !ok {
		ce = NewError(CodeUnknown, err.Error())
	}
	body, marshalErr := marshalEndStream(Header{}, ce)
	if marshalErr != nil {
		w.Start(500, Header{})
		return
	}
	streamContentType := codec.StreamingJSON
	if c != nil {
		streamContentType = c.StreamingContentType()
	}
	w.Start(200, Header{contentTypeHeader: []string{streamContentType}})
	_ = writeEnvelope(w, flagEndStream, body)
	w.Flush()
}

func (s *Server) writeUnaryError(w ResponseWriter, err error) {
	ce, ok := AsError(err)
	if !ok {
		ce = NewError(CodeUnknown, err.Error())
	}
	body, marshalErr := marshalError(ce)
	status := ce.Code.HTTPStatus()
	header := Header{contentTypeHeader: []string{"application/json"}}
	mergeTrailers(header, ce.Meta())
	if marshalErr != nil {
		w.Start(500, Header{})
		return
	}
	w.Start(status, header)
	_, _ = w.Write(body)
	w.Flush()
}
