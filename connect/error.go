// Package connect implements the Connect RPC protocol: the envelope
// framer, content negotiation, the four RPC interaction shapes, and the
// structured error taxonomy shared by client and server engines.
package connect

import (
	"fmt"
	"net/http"
)

// Code is one of the sixteen Connect error codes. Unlike gRPC, Connect
// spells codes as lower_snake_case strings on the wire.
type Code string

// The closed set of Connect error codes.
const (
	CodeCanceled           Code = "canceled"
	CodeUnknown            Code = "unknown"
	CodeInvalidArgument    Code = "invalid_argument"
	CodeDeadlineExceeded   Code = "deadline_exceeded"
	CodeNotFound           Code = "not_found"
	CodeAlreadyExists      Code = "already_exists"
	CodePermissionDenied   Code = "permission_denied"
	CodeResourceExhausted  Code = "resource_exhausted"
	CodeFailedPrecondition Code = "failed_precondition"
	CodeAborted            Code = "aborted"
	CodeOutOfRange         Code = "out_of_range"
	CodeUnimplemented      Code = "unimplemented"
	CodeInternal           Code = "internal"
	CodeUnavailable        Code = "unavailable"
	CodeDataLoss           Code = "data_loss"
	CodeUnauthenticated    Code = "unauthenticated"
)

// httpStatusByCode is the fixed status mapping from spec.md §3.
var httpStatusByCode = map[Code]int{
	CodeCanceled:           http.StatusRequestTimeout,
	CodeUnknown:            http.StatusInternalServerError,
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeDeadlineExceeded:   http.StatusRequestTimeout,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeFailedPrecondition: http.StatusPreconditionFailed,
	CodeAborted:            http.StatusConflict,
	CodeOutOfRange:         http.StatusBadRequest,
	CodeUnimplemented:      http.StatusNotImplemented,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeDataLoss:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// HTTPStatus returns the HTTP status a unary response carrying this code
// must use. Streaming responses always use 200 regardless of this value
// (spec.md §3, "A streaming HTTP response always uses status 200").
func (c Code) HTTPStatus() int {
	if status, ok := httpStatusByCode[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// codeByHTTPStatus is the reverse mapping, used by the client to
// synthesize an error code when a non-200 response isn't valid
// ConnectError JSON.
var codeByHTTPStatus = map[int]Code{
	http.StatusRequestTimeout:                CodeDeadlineExceeded,
	http.StatusBadRequest:                    CodeInvalidArgument,
	http.StatusNotFound:                      CodeNotFound,
	http.StatusConflict:                      CodeAborted,
	http.StatusForbidden:                     CodePermissionDenied,
	http.StatusTooManyRequests:               CodeResourceExhausted,
	http.StatusPreconditionFailed:            CodeFailedPrecondition,
	http.StatusNotImplemented:                CodeUnimplemented,
	http.StatusServiceUnavailable:            CodeUnavailable,
	http.StatusUnauthorized:                  CodeUnauthenticated,
	http.StatusInternalServerError:           CodeUnknown,
	http.StatusBadGateway:                    CodeUnavailable,
	http.StatusGatewayTimeout:                CodeUnavailable,
	http.StatusMethodNotAllowed:              CodeUnimplemented,
	http.StatusUnsupportedMediaType:          CodeInternal,
	http.StatusRequestEntityTooLarge:         CodeResourceExhausted,
	http.StatusTooEarly:                      CodeUnavailable,
	http.StatusNetworkAuthenticationRequired: CodeUnauthenticated,
}

// CodeFromHTTPStatus maps an arbitrary HTTP status to the closest
// Connect code, for synthesizing errors from non-Connect-aware
// intermediaries (proxies, load balancers).
func CodeFromHTTPStatus(status int) Code {
	if code, ok := codeByHTTPStatus[status]; ok {
		return code
	}
	return CodeUnknown
}

// Detail is a single entry in an Error's Details list: a Protobuf Any,
// represented as a type name plus base64-encoded bytes, with an optional
// debug rendering (spec.md §3).
type Detail struct {
	Type  string `json:"type"`
	Value []byte `json:"value"`
	Debug any    `json:"debug,omitempty"`
}

// Error is the canonical Connect error value: an enumerated code, a
// message, and an ordered list of typed details. It implements the
// standard error interface so it can flow through ordinary Go error
// handling until it reaches the edge of the engine.
type Error struct {
	Code    Code
	Message string
	Details []Detail

	// meta carries headers observed alongside this error, e.g. the
	// response headers of a unary call whose body failed to parse. Not
	// part of the error's JSON body; see Error.Meta.
	meta Header
}

// NewError creates an Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail appends a detail and returns the receiver for chaining.
func (e *Error) WithDetail(d Detail) *Error {
	e.Details = append(e.Details, d)
	return e
}

// WithMeta attaches response headers observed alongside a malformed or
// partial response (SPEC_FULL.md, "UnaryOutput/StreamOutput partial-response
// access"). It does not change the error's JSON body; when a server
// writes a unary error response, these headers are sent as
// "trailer-<name>" headers.
func (e *Error) WithMeta(h Header) *Error {
	e.meta = h
	return e
}

// Meta returns headers attached via WithMeta, or nil if none were set.
func (e *Error) Meta() Header {
	return e.meta
}

// AsError reports whether err is (or wraps) a *Error, Go 1.13-style.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if err == nil {
		return nil, false
	}
	if ce, ok := err.(*Error); ok {
		return ce, true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return AsError(u.Unwrap())
	}
	return ce, false
}

// wireError is the JSON shape of a ConnectError on the wire (spec.md §4.4).
type wireError struct {
	Code    Code     `json:"code"`
	Message string   `json:"message,omitempty"`
	Details []Detail `json:"details,omitempty"`
}
