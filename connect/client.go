package connect

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/connectrt-go/connectrt/connect/codec"
	"github.com/connectrt-go/connectrt/connect/compression"
)

// Doer is the minimal HTTP client contract the Client engine needs,
// satisfied by *http.Client and trivial to fake in tests. Grounded on
// the teacher pack's dicenull-connect-go Doer interface.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues Connect RPCs against a single base URL (spec.md §4.6,
// component C7). It is the mirror of Server: one call per interaction
// shape, built on the same envelope/codec/compression primitives.
type Client struct {
	doer             Doer
	baseURL          string
	codec            codec.Codec
	compressor       compression.Compressor
	maxEnvelopeBytes int
	logger           *zap.Logger
}

// NewClient constructs a Client that issues requests through doer
// against baseURL (e.g. "https://api.example.com").
func NewClient(doer Doer, baseURL string, opts ...ClientOption) *Client {
	defaultCodec, _ := codec.Default.ByName(codec.Proto)
	c := &Client{
		doer:             doer,
		baseURL:          strings.TrimRight(baseURL, "/"),
		codec:            defaultCodec,
		compressor:       identityCompressorOf(),
		maxEnvelopeBytes: DefaultMaxEnvelopeBytes,
		logger:           nopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func identityCompressorOf() compression.Compressor {
	c, _ := compression.Default.Get(compression.Identity)
	return c
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// CallUnary performs a single request/response RPC (spec.md §4.6, S1/S2).
func CallUnary[Req, Resp proto.Message](ctx context.Context, c *Client, path string, req *Request[Req]) (*Response[Resp], error) {
	payload, err := c.codec.Marshal(req.Msg)
	if err != nil {
		return nil, Errorf(CodeInternal, "marshal request: %v", err)
	}
	if c.compressor.Name() != compression.Identity {
		payload, err = c.compressor.Compress(payload)
		if err != nil {
			return nil, Errorf(CodeInternal, "compress request: %v", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), strings.NewReader(string(payload)))
	if err != nil {
		return nil, Errorf(CodeInternal, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", c.codec.UnaryContentType())
	if c.compressor.Name() != compression.Identity {
		httpReq.Header.Set(contentEncodingHeader, c.compressor.Name())
	}
	httpReq.Header.Set(protocolVersionHeader, protocolVersion)
	applyTimeoutHeader(ctx, httpReq.Header)
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}
	mergeTrailers(httpReq.Header, req.Trailer)

	httpResp, err := c.doer.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errorFromContext(ctx)
		}
		return nil, Errorf(CodeUnavailable, "request failed: %v", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, int64(c.maxEnvelopeBytes)+1))
	if err != nil {
		return nil, Errorf(CodeUnknown, "read response: %v", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		ce, perr := unmarshalError(body)
		if perr != nil || ce == nil {
			ce = NewError(CodeFromHTTPStatus(httpResp.StatusCode), string(body))
		}
		ce = ce.WithMeta(httpResp.Header)
		return nil, ce
	}

	if got := httpResp.Header.Get(contentTypeHeader); got != c.codec.UnaryContentType() {
		return nil, Errorf(CodeInternal, "unexpected Content-Type in response: %q", got)
	}

	respEncoding := httpResp.Header.Get(contentEncodingHeader)
	comp, ok := c.compressorFor(respEncoding)
	if !ok {
		return nil, Errorf(CodeInternal, "unsupported response %s: %q", contentEncodingHeader, respEncoding)
	}
	if comp.Name() != compression.Identity {
		body, err = comp.Decompress(body)
		if err != nil {
			return nil, Errorf(CodeInvalidArgument, "decompress response: %v", err)
		}
	}

	msg := newMessage[Resp]()
	if err := c.codec.Unmarshal(body, msg); err != nil {
		return nil, Errorf(CodeInvalidArgument, "unmarshal response: %v", err).WithMeta(httpResp.Header)
	}

	header, trailer := splitTrailers(httpResp.Header)
	return &Response[Resp]{Msg: msg, Header: header, Trailer: trailer}, nil
}

func (c *Client) compressorFor(name string) (compression.Compressor, bool) {
	if name == "" {
		return identityCompressorOf(), true
	}
	return compression.Default.Get(name)
}

// OpenServerStream opens a server-streaming RPC (spec.md §4.6, S4):
// exactly one request message is sent up front, then responses are
// read one at a time via the returned ClientStream.
func OpenServerStream[Req, Resp proto.Message](ctx context.Context, c *Client, path string, req *Request[Req]) (*ClientStream[Resp], error) {
	payload, err := c.codec.Marshal(req.Msg)
	if err != nil {
		return nil, Errorf(CodeInternal, "marshal request: %v", err)
	}
	flags := uint8(0)
	if c.compressor.Name() != compression.Identity {
		payload, err = c.compressor.Compress(payload)
		if err != nil {
			return nil, Errorf(CodeInternal, "compress request: %v", err)
		}
		flags |= flagCompressed
	}
	var envBuf bytes.Buffer
	if err := writeEnvelope(&envBuf, flags, payload); err != nil {
		return nil, Errorf(CodeInternal, "envelope request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), &envBuf)
	if err != nil {
		return nil, Errorf(CodeInternal, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", c.codec.StreamingContentType())
	if c.compressor.Name() != compression.Identity {
		httpReq.Header.Set(streamEncodingHeader, c.compressor.Name())
	}
	httpReq.Header.Set(protocolVersionHeader, protocolVersion)
	applyTimeoutHeader(ctx, httpReq.Header)
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}

	httpResp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, Errorf(CodeUnavailable, "request failed: %v", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)
		ce, perr := unmarshalError(body)
		if perr != nil || ce == nil {
			ce = NewError(CodeFromHTTPStatus(httpResp.StatusCode), string(body))
		}
		return nil, ce
	}

	header, trailer := splitTrailers(httpResp.Header)
	receiver := newServerStreamReceiver(ctx, httpResp.Body, c.codec, c.compressor, c.maxEnvelopeBytes, header, trailer)
	receiver.closer = httpResp.Body
	return &ClientStream[Resp]{receiver: receiver}, nil
}
