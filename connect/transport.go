package connect

import (
	"context"
	"io"
)

// RequestReader is the abstract inbound-request contract the server
// engine is written against (spec.md §1 "Deliberately out of scope",
// §4.9 component C10): method, path, headers, and a readable body.
// Concrete transports (net/http, an ASGI-like event loop) implement
// this once in an adapter; the server engine never touches net/http's
// request or response-writer types directly.
type RequestReader interface {
	Method() string
	Path() string
	Header() Header
	Body() io.Reader
	// Context returns the request's context, cancelled on client
	// disconnect by the adapter.
	Context() context.Context
}

// ResponseWriter is the abstract outbound-response contract: start the
// response with a status and headers, stream body chunks, and flush so
// partial progress reaches the peer (needed for streaming RPCs, which
// must not buffer a whole response before the first message is visible).
//
// Connect never relies on transport-level trailers: unary trailers ride
// as "trailer-<name>" headers and streaming trailers ride inside the
// end-stream block, so this contract has no separate trailer event,
// unlike a literal ASGI response (see DESIGN.md).
type ResponseWriter interface {
	// Start sends the status line and header block. It must be called
	// exactly once, before any Write.
	Start(status int, header Header)
	Write(p []byte) (int, error)
	// Flush pushes any buffered bytes to the peer now, for low-latency
	// streaming delivery.
	Flush()
}
