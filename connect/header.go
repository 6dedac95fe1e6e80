package connect

import (
	"net/http"
	"strings"
)

// Header is an ordered multimap of header/trailer names to value
// sequences; it is exactly net/http's Header type so adapters can pass
// net/http values through without copying.
type Header = http.Header

// trailerPrefix marks a header carrying trailing metadata on a unary
// request or response (spec.md §3, "Trailer-prefixed header"); the
// server strips it from the headers of every inbound request.
const trailerPrefix = "trailer-"

// splitTrailers partitions h into (non-trailer headers, trailers),
// stripping trailerPrefix from the trailer keys. This is the extraction
// rule for inbound "trailer-<name>" headers described in spec.md §4.7
// ("Handler trailers-in-headers extraction") — we choose to strip the
// prefix, symmetric with mergeTrailers below (see DESIGN.md Open
// Question decision).
func splitTrailers(h Header) (headers, trailers Header) {
	headers = make(Header, len(h))
	trailers = make(Header)
	for k, v := range h {
		if strings.HasPrefix(strings.ToLower(k), trailerPrefix) {
			name := k[len(trailerPrefix):]
			trailers[http.CanonicalHeaderKey(name)] = append(trailers[http.CanonicalHeaderKey(name)], v...)
			continue
		}
		headers[k] = append(headers[k], v...)
	}
	return headers, trailers
}

// mergeTrailers writes trailers into dst as "trailer-<name>" headers,
// the outbound half of the unary trailer convention.
func mergeTrailers(dst Header, trailers Header) {
	for k, values := range trailers {
		key := trailerPrefix + k
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// cloneHeader returns a shallow copy safe for a caller to mutate.
func cloneHeader(h Header) Header {
	out := make(Header, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
