package connect

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeCanceled:          http.StatusRequestTimeout,
		CodeInvalidArgument:   http.StatusBadRequest,
		CodeNotFound:          http.StatusNotFound,
		CodeResourceExhausted: http.StatusTooManyRequests,
		CodeUnimplemented:     http.StatusNotImplemented,
		CodeUnauthenticated:   http.StatusUnauthorized,
	}
	for code, status := range cases {
		assert.Equal(t, status, code.HTTPStatus(), "code %s", code)
	}
}

func TestCodeFromHTTPStatus(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeFromHTTPStatus(http.StatusNotFound))
	assert.Equal(t, CodeUnknown, CodeFromHTTPStatus(599))
}

func TestAsErrorUnwraps(t *testing.T) {
	base := NewError(CodeInternal, "boom")
	wrapped := &wrappingError{cause: base}

	ce, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, base, ce)

	_, ok = AsError(assertionError{})
	assert.False(t, ok)
}

type wrappingError struct{ cause error }

func (w *wrappingError) Error() string { return "wrapped: " + w.cause.Error() }
func (w *wrappingError) Unwrap() error { return w.cause }

type assertionError struct{}

func (assertionError) Error() string { return "plain error" }

func TestMarshalUnmarshalErrorRoundTrip(t *testing.T) {
	e := NewError(CodeFailedPrecondition, "bad state").WithDetail(Detail{Type: "x", Value: []byte("v")})
	data, err := marshalError(e)
	assert.NoError(t, err)

	decoded, err := unmarshalError(data)
	assert.NoError(t, err)
	assert.Equal(t, e.Code, decoded.Code)
	assert.Equal(t, e.Message, decoded.Message)
	assert.Len(t, decoded.Details, 1)
}

func TestUnmarshalErrorNonConnectShape(t *testing.T) {
	decoded, err := unmarshalError([]byte(`{"not":"an error"}`))
	assert.NoError(t, err)
	assert.Nil(t, decoded)
}
