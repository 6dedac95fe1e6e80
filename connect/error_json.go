package connect

import "encoding/json"

// marshalError encodes an Error to its ConnectError JSON shape
// (spec.md §4.4). Used both for unary error bodies and inside
// end-stream blocks.
func marshalError(e *Error) ([]byte, error) {
	return json.Marshal(wireError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

// unmarshalError decodes a ConnectError JSON body. It returns
// (nil, nil) if the bytes don't look like a ConnectError at all, so
// callers can fall back to synthesizing an error from the HTTP status.
func unmarshalError(data []byte) (*Error, error) {
	var we wireError
	if err := json.Unmarshal(data, &we); err != nil {
		return nil, err
	}
	if we.Code == "" {
		return nil, nil
	}
	return &Error{Code: we.Code, Message: we.Message, Details: we.Details}, nil
}
