package compression_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectrt-go/connectrt/connect/compression"
)

func TestGzipRoundTrip(t *testing.T) {
	c, ok := compression.Default.Get(compression.Gzip)
	require.True(t, ok)

	compressed, err := c.Compress([]byte("hello world"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("hello world"), compressed)

	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestIdentityIsPassthrough(t *testing.T) {
	c, ok := compression.Default.Get("")
	require.True(t, ok)
	assert.Equal(t, compression.Identity, c.Name())

	out, err := c.Compress([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(out))
}

func TestUnknownCompressorNotFound(t *testing.T) {
	_, ok := compression.Default.Get("br")
	assert.False(t, ok)
}
