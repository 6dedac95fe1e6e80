package connect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeoutHeaderAbsent(t *testing.T) {
	d, ok, err := parseTimeoutHeader("")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, d)
}

func TestParseTimeoutHeaderValid(t *testing.T) {
	d, ok, err := parseTimeoutHeader("50")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, d)
}

func TestParseTimeoutHeaderMalformedIsInvalidArgument(t *testing.T) {
	_, _, err := parseTimeoutHeader("not-a-number")
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidArgument, ce.Code)
}

func TestParseTimeoutHeaderNegativeIsInvalidArgument(t *testing.T) {
	_, _, err := parseTimeoutHeader("-1")
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidArgument, ce.Code)
}

func TestWithDeadlineZeroMeansAlreadyExpired(t *testing.T) {
	_, cancel, expired, err := withDeadline(context.Background(), "0")
	defer cancel()
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestWithDeadlineAbsentIsUnbounded(t *testing.T) {
	ctx, cancel, expired, err := withDeadline(context.Background(), "")
	defer cancel()
	require.NoError(t, err)
	assert.False(t, expired)
	_, hasDeadline := ctx.Deadline()
	assert.False(t, hasDeadline)
}

func TestCheckDeadlineExpired(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	err := checkDeadline(ctx)
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeDeadlineExceeded, ce.Code)
}

func TestCheckDeadlineCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := checkDeadline(ctx)
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCanceled, ce.Code)
}

func TestApplyTimeoutHeaderSetsWhenDeadlinePresent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	h := Header{}
	applyTimeoutHeader(ctx, h)
	assert.NotEmpty(t, h.Get(TimeoutHeader))
}

func TestApplyTimeoutHeaderNoopWithoutDeadline(t *testing.T) {
	h := Header{}
	applyTimeoutHeader(context.Background(), h)
	assert.Empty(t, h.Get(TimeoutHeader))
}
