package connect

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeEnvelope(&buf, flagCompressed, []byte("hello")))

	env, err := readEnvelope(&buf, 0)
	require.NoError(t, err)
	assert.True(t, env.compressed())
	assert.False(t, env.endStream())
	assert.Equal(t, []byte("hello"), env.payload)
}

func TestReadEnvelopeCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	_, err := readEnvelope(&buf, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadEnvelopeTruncatedIsError(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00, 0x00, 0x00, 0x05, 'h', 'i'})
	_, err := readEnvelope(buf, 0)
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidArgument, ce.Code)
}

func TestReadEnvelopeRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00, 0x00, 0x00, 0x10})
	_, err := readEnvelope(buf, 4)
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidArgument, ce.Code)
}
