package connect

import (
	"context"
	"errors"
	"io"
	"net/http"

	"google.golang.org/protobuf/proto"

	"github.com/connectrt-go/connectrt/connect/compression"
)

// pipeCall drives a streaming HTTP request whose body is fed through an
// io.Pipe, so the request can be written to incrementally instead of
// buffered up front (spec.md §4.6, "full-duplex is required"). Grounded
// on the teacher pack's dicenull-connect-go clientStream, which starts
// the request in a background goroutine against a pipe reader while the
// caller writes to the pipe writer.
type pipeCall struct {
	ctx    context.Context
	pw     *io.PipeWriter
	respCh chan pipeCallResult
}

type pipeCallResult struct {
	resp *http.Response
	err  error
}

func startPipeCall(ctx context.Context, c *Client, path string, header Header) *pipeCall {
	pr, pw := io.Pipe()
	call := &pipeCall{ctx: ctx, pw: pw, respCh: make(chan pipeCallResult, 1)}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), pr)
	if err != nil {
		call.respCh <- pipeCallResult{err: Errorf(CodeInternal, "build request: %v", err)}
		return call
	}
	req.Header.Set(contentTypeHeader, c.codec.StreamingContentType())
	if c.compressor.Name() != compression.Identity {
		req.Header.Set(streamEncodingHeader, c.compressor.Name())
	}
	req.Header.Set(protocolVersionHeader, protocolVersion)
	applyTimeoutHeader(ctx, req.Header)
	for k, v := range header {
		req.Header[k] = v
	}

	go func() {
		resp, err := c.doer.Do(req)
		call.respCh <- pipeCallResult{resp: resp, err: err}
	}()
	return call
}

// send envelopes and writes one request message to the pipe.
func (p *pipeCall) send(c *Client, msg proto.Message) error {
	payload, err := c.codec.Marshal(msg)
	if err != nil {
		return Errorf(CodeInternal, "marshal request: %v", err)
	}
	flags := uint8(0)
	if c.compressor.Name() != compression.Identity {
		payload, err = c.compressor.Compress(payload)
		if err != nil {
			return Errorf(CodeInternal, "compress request: %v", err)
		}
		flags |= flagCompressed
	}
	if err := writeEnvelope(p.pw, flags, payload); err != nil {
		return Errorf(CodeUnavailable, "write request: %v", err)
	}
	return nil
}

// closeSend half-closes the request body, signaling no more messages.
func (p *pipeCall) closeSend() error {
	return p.pw.Close()
}

// response blocks for the HTTP response headers to arrive (the server
// may respond before the client finishes sending, so this can race with
// further sends on a true bidi stream).
func (p *pipeCall) response() (*http.Response, error) {
	result := <-p.respCh
	if result.err != nil {
		return nil, Errorf(CodeUnavailable, "request failed: %v", result.err)
	}
	if result.resp.StatusCode != http.StatusOK {
		defer result.resp.Body.Close()
		body, _ := io.ReadAll(result.resp.Body)
		ce, perr := unmarshalError(body)
		if perr != nil || ce == nil {
			ce = NewError(CodeFromHTTPStatus(result.resp.StatusCode), string(body))
		}
		return nil, ce
	}
	return result.resp, nil
}

// ClientStreamCaller is the client-side handle for a client-streaming
// call (spec.md §4.6): Send any number of request messages, then
// CloseAndReceive to half-close and read the single response message.
type ClientStreamCaller[Req, Resp proto.Message] struct {
	client *Client
	call   *pipeCall
}

// OpenClientStream starts a client-streaming RPC.
func OpenClientStream[Req, Resp proto.Message](ctx context.Context, c *Client, path string, header Header) *ClientStreamCaller[Req, Resp] {
	return &ClientStreamCaller[Req, Resp]{client: c, call: startPipeCall(ctx, c, path, header)}
}

// Send envelopes and writes one request message.
func (cc *ClientStreamCaller[Req, Resp]) Send(msg Req) error {
	return cc.call.send(cc.client, msg)
}

// CloseAndReceive half-closes the request and reads back the single
// response message plus the end-stream block's trailers/error.
func (cc *ClientStreamCaller[Req, Resp]) CloseAndReceive() (*Response[Resp], error) {
	if err := cc.call.closeSend(); err != nil {
		return nil, Errorf(CodeUnavailable, "close request: %v", err)
	}
	resp, err := cc.call.response()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	header, trailer := splitTrailers(resp.Header)
	receiver := newServerStreamReceiver(cc.call.ctx, resp.Body, cc.client.codec, cc.client.compressor, cc.client.maxEnvelopeBytes, header, trailer)
	msg := newMessage[Resp]()
	if recvErr := receiver.receive(msg); recvErr != nil {
		if errors.Is(recvErr, io.EOF) {
			return nil, Errorf(CodeUnimplemented, "client-streaming handler emitted no response message")
		}
		return nil, recvErr
	}
	// A well-behaved handler emits exactly one message then the
	// end-stream block; confirm the stream actually ends here.
	if recvErr := peekEndOfStream[Resp](receiver); recvErr != nil {
		return nil, recvErr
	}
	return &Response[Resp]{Msg: msg, Header: header, Trailer: receiver.trailer}, nil
}

// peekEndOfStream reads one more frame and rejects anything other than
// a clean end of stream, catching handlers that emit more than the one
// message a client-streaming response is allowed (spec.md §4.6,
// "Returning fewer/more is a protocol error").
func peekEndOfStream[T proto.Message](r *serverStreamReceiver) error {
	extra := newMessage[T]()
	err := r.receive(extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return Errorf(CodeUnimplemented, "client-streaming handler emitted more than one response message")
	}
	return err
}

// BidiStreamCaller is the client-side handle for a bidirectional-streaming
// call: Send and Receive operate on independent directions, matching the
// server-side BidiStream (spec.md §4.6, S-bidi).
type BidiStreamCaller[Req, Resp proto.Message] struct {
	client   *Client
	call     *pipeCall
	receiver *serverStreamReceiver
}

// OpenBidiStream starts a bidirectional-streaming RPC.
func OpenBidiStream[Req, Resp proto.Message](ctx context.Context, c *Client, path string, header Header) *BidiStreamCaller[Req, Resp] {
	return &BidiStreamCaller[Req, Resp]{client: c, call: startPipeCall(ctx, c, path, header)}
}

// Send envelopes and writes one request message.
func (bc *BidiStreamCaller[Req, Resp]) Send(msg Req) error {
	return bc.call.send(bc.client, msg)
}

// CloseSend half-closes the request body; the response may still be
// read afterward.
func (bc *BidiStreamCaller[Req, Resp]) CloseSend() error {
	return bc.call.closeSend()
}

// Receive reads the next response message, resolving the HTTP response
// headers on first call.
func (bc *BidiStreamCaller[Req, Resp]) Receive() (Resp, error) {
	var zero Resp
	if bc.receiver == nil {
		resp, err := bc.call.response()
		if err != nil {
			return zero, err
		}
		header, trailer := splitTrailers(resp.Header)
		bc.receiver = newServerStreamReceiver(bc.call.ctx, resp.Body, bc.client.codec, bc.client.compressor, bc.client.maxEnvelopeBytes, header, trailer)
		bc.receiver.closer = resp.Body
	}
	msg := newMessage[Resp]()
	if err := bc.receiver.receive(msg); err != nil {
		return zero, err
	}
	return msg, nil
}

// Close releases the HTTP response body backing the stream once Receive
// has resolved the response. Safe to call multiple times (spec.md §9,
// explicit release operation; P8). Before the first Receive it releases
// nothing: a response that arrives later is not closed by it. It never
// closes the request body; CloseSend does that.
func (bc *BidiStreamCaller[Req, Resp]) Close() error {
	if bc.receiver != nil {
		bc.receiver.close()
	}
	return nil
}
