// Package adapter binds the transport-agnostic connect.Server to a
// concrete net/http.Handler, the one concern spec.md marks as
// deliberately out of scope for the engine itself: socket accept, TLS,
// and HTTP/1.1 vs HTTP/2 multiplexing are net/http's job, not the
// protocol engine's.
package adapter

import (
	"context"
	"io"
	"net/http"

	"github.com/connectrt-go/connectrt/connect"
)

// httpRequest wraps *http.Request to satisfy connect.RequestReader.
type httpRequest struct {
	r *http.Request
}

func (h httpRequest) Method() string { return h.r.Method }
func (h httpRequest) Path() string { return h.r.URL.Path }
func (h httpRequest) Header() connect.Header { return h.r.Header }
func (h httpRequest) Body() io.Reader { return h.r.Body }
func (h httpRequest) Context() context.Context { return h.r.Context() }

// httpResponseWriter wraps http.ResponseWriter to satisfy
// connect.ResponseWriter, flushing through http.Flusher when available
// so streaming responses reach the peer incrementally.
type httpResponseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (h *httpResponseWriter) Start(status int, header connect.Header) {
	dst := h.w.Header()
	for k, v := range header {
		dst[k] = v
	}
	h.w.WriteHeader(status)
}

func (h *httpResponseWriter) Write(p []byte) (int, error) {
	return h.w.Write(p)
}

func (h *httpResponseWriter) Flush() {
	if h.flusher != nil {
		h.flusher.Flush()
	}
}

// NewHTTPHandler returns an http.Handler that dispatches every request
// through srv. Mount it at the root of whatever path prefix your
// services use.
func NewHTTPHandler(srv *connect.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		srv.ServeConnect(&httpResponseWriter{w: w, flusher: flusher}, httpRequest{r: r})
	})
}
