package connect

import (
	"encoding/json"
	"net/http"
)

// endStreamMessage is the JSON payload carried inside the terminal
// flags=0x02 envelope of a streaming response (spec.md §3, §4.4).
type endStreamMessage struct {
	Error    *wireError          `json:"error,omitempty"`
	Metadata map[string][]string `json:"metadata,omitempty"`
}

// marshalEndStream encodes trailers and an optional error into the
// end-stream block's JSON form. End-stream blocks are always JSON,
// independent of the negotiated message codec (spec.md §4.2).
func marshalEndStream(trailers Header, err *Error) ([]byte, error) {
	msg := endStreamMessage{}
	if len(trailers) > 0 {
		msg.Metadata = make(map[string][]string, len(trailers))
		for k, v := range trailers {
			msg.Metadata[lowerHeaderName(k)] = v
		}
	}
	if err != nil {
		msg.Error = &wireError{Code: err.Code, Message: err.Message, Details: err.Details}
	}
	return json.Marshal(msg)
}

// unmarshalEndStream decodes an end-stream block, returning the
// trailers and the terminal error (nil if the stream ended cleanly).
func unmarshalEndStream(data []byte) (Header, *Error, error) {
	var msg endStreamMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, nil, Errorf(CodeInvalidArgument, "malformed end-stream block: %v", err)
		}
	}
	trailers := make(Header, len(msg.Metadata))
	for k, v := range msg.Metadata {
		trailers[canonicalHeaderName(k)] = v
	}
	var connErr *Error
	if msg.Error != nil {
		connErr = &Error{Code: msg.Error.Code, Message: msg.Error.Message, Details: msg.Error.Details}
	}
	return trailers, connErr, nil
}

func lowerHeaderName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func canonicalHeaderName(name string) string {
	return http.CanonicalHeaderKey(name)
}
