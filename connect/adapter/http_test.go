package adapter_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/connectrt-go/connectrt/connect"
	"github.com/connectrt-go/connectrt/connect/adapter"
)

func newTestServer(t *testing.T) (*httptest.Server, *connect.Client) {
	t.Helper()
	srv := connect.NewServer()

	err := connect.RegisterUnary(srv, "/test.Echo/Say",
		connect.UnaryHandler[*wrapperspb.StringValue, *wrapperspb.StringValue](func(ctx context.Context, req *connect.Request[*wrapperspb.StringValue]) (*connect.Response[*wrapperspb.StringValue], error) {
			if req.Msg.GetValue() == "" {
				return nil, connect.NewError(connect.CodeInvalidArgument, "value required")
			}
			resp := connect.NewResponse(wrapperspb.String("echo: " + req.Msg.GetValue()))
			resp.Trailer.Set("Served-By", "test")
			return resp, nil
		}))
	require.NoError(t, err)

	err = connect.RegisterServerStream(srv, "/test.Echo/Count",
		connect.ServerStreamHandler[*wrapperspb.StringValue, *wrapperspb.StringValue](func(ctx context.Context, req *connect.Request[*wrapperspb.StringValue], stream *connect.ServerStream[*wrapperspb.StringValue]) error {
			n := len(req.Msg.GetValue())
			for i := 0; i < n; i++ {
				if err := stream.Send(wrapperspb.String(req.Msg.GetValue()[:i+1])); err != nil {
					return err
				}
			}
			stream.SetTrailer(connect.Header{"Total": []string{"done"}})
			return nil
		}))
	require.NoError(t, err)

	err = connect.RegisterClientStream(srv, "/test.Echo/Concat",
		connect.ClientStreamHandler[*wrapperspb.StringValue, *wrapperspb.StringValue](func(ctx context.Context, stream *connect.ClientStream[*wrapperspb.StringValue]) (*connect.Response[*wrapperspb.StringValue], error) {
			var joined string
			for {
				msg, err := stream.Receive()
				if err != nil {
					break
				}
				joined += msg.GetValue()
			}
			return connect.NewResponse(wrapperspb.String(joined)), nil
		}))
	require.NoError(t, err)

	err = connect.RegisterBidiStream(srv, "/test.Echo/Upper",
		connect.BidiStreamHandler[*wrapperspb.StringValue, *wrapperspb.StringValue](func(ctx context.Context, stream *connect.BidiStream[*wrapperspb.StringValue, *wrapperspb.StringValue]) error {
			for {
				msg, err := stream.Receive()
				if err != nil {
					break
				}
				if err := stream.Send(wrapperspb.String(strings.ToUpper(msg.GetValue()))); err != nil {
					return err
				}
			}
			return nil
		}))
	require.NoError(t, err)

	ts := httptest.NewServer(adapter.NewHTTPHandler(srv))
	client := connect.NewClient(http.DefaultClient, ts.URL)
	return ts, client
}

func TestUnarySuccess(t *testing.T) {
	ts, client := newTestServer(t)
	defer ts.Close()

	resp, err := connect.CallUnary[*wrapperspb.StringValue, *wrapperspb.StringValue](
		context.Background(), client, "/test.Echo/Say",
		&connect.Request[*wrapperspb.StringValue]{Msg: wrapperspb.String("hi")},
	)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp.Msg.GetValue())
	assert.Equal(t, "test", resp.Trailer.Get("Served-By"))
}

func TestUnaryError(t *testing.T) {
	ts, client := newTestServer(t)
	defer ts.Close()

	_, err := connect.CallUnary[*wrapperspb.StringValue, *wrapperspb.StringValue](
		context.Background(), client, "/test.Echo/Say",
		&connect.Request[*wrapperspb.StringValue]{Msg: wrapperspb.String("")},
	)
	require.Error(t, err)
	ce, ok := connect.AsError(err)
	require.True(t, ok)
	assert.Equal(t, connect.CodeInvalidArgument, ce.Code)
}

func TestUnaryUnknownRouteIs404(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/does/not/exist", "application/proto", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerStreamWithTrailers(t *testing.T) {
	ts, client := newTestServer(t)
	defer ts.Close()

	stream, err := connect.OpenServerStream[*wrapperspb.StringValue, *wrapperspb.StringValue](
		context.Background(), client, "/test.Echo/Count",
		&connect.Request[*wrapperspb.StringValue]{Msg: wrapperspb.String("abc")},
	)
	require.NoError(t, err)

	var got []string
	for {
		msg, err := stream.Receive()
		if err != nil {
			break
		}
		got = append(got, msg.GetValue())
	}
	assert.Equal(t, []string{"a", "ab", "abc"}, got)
	assert.Equal(t, "done", stream.Trailer().Get("Total"))

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestServerStreamCloseIsIdempotentOnEarlyAbandon(t *testing.T) {
	ts, client := newTestServer(t)
	defer ts.Close()

	stream, err := connect.OpenServerStream[*wrapperspb.StringValue, *wrapperspb.StringValue](
		context.Background(), client, "/test.Echo/Count",
		&connect.Request[*wrapperspb.StringValue]{Msg: wrapperspb.String("abc")},
	)
	require.NoError(t, err)

	_, err = stream.Receive()
	require.NoError(t, err)

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestClientStreamRoundTrip(t *testing.T) {
	ts, client := newTestServer(t)
	defer ts.Close()

	caller := connect.OpenClientStream[*wrapperspb.StringValue, *wrapperspb.StringValue](
		context.Background(), client, "/test.Echo/Concat", connect.Header{})
	require.NoError(t, caller.Send(wrapperspb.String("foo")))
	require.NoError(t, caller.Send(wrapperspb.String("bar")))

	resp, err := caller.CloseAndReceive()
	require.NoError(t, err)
	assert.Equal(t, "foobar", resp.Msg.GetValue())
}

func TestUnaryUnsupportedMediaTypeIsBareHTTP(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/test.Echo/Say", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "application/json, application/proto", resp.Header.Get("Accept-Post"))
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestStreamingUnsupportedMediaTypeIsBareHTTP(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/test.Echo/Count", "application/proto", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "application/connect+json, application/connect+proto", resp.Header.Get("Accept-Post"))
}

func TestStreamingUnsupportedSubtypeIsUnimplemented(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/test.Echo/Count", "application/connect+xml", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "unimplemented")
}

func TestZeroTimeoutSkipsDispatchAndReturnsDeadlineExceeded(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/test.Echo/Say", strings.NewReader(""))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/proto")
	req.Header.Set("Connect-Timeout-Ms", "0")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "deadline_exceeded")
}

func TestMalformedTimeoutHeaderIsInvalidArgument(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/test.Echo/Say", strings.NewReader(""))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/proto")
	req.Header.Set("Connect-Timeout-Ms", "soon")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownCompressionIsUnimplemented(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/test.Echo/Say", strings.NewReader("hi"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/proto")
	req.Header.Set("Content-Encoding", "brotli")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "unimplemented")
}

func TestServerStreamDeadlineExceededMidStream(t *testing.T) {
	srv := connect.NewServer()
	err := connect.RegisterServerStream(srv, "/test.Echo/Slow",
		connect.ServerStreamHandler[*wrapperspb.StringValue, *wrapperspb.StringValue](func(ctx context.Context, req *connect.Request[*wrapperspb.StringValue], stream *connect.ServerStream[*wrapperspb.StringValue]) error {
			require.NoError(t, stream.Send(wrapperspb.String("first")))
			time.Sleep(100 * time.Millisecond)
			return stream.Send(wrapperspb.String("second"))
		}))
	require.NoError(t, err)

	ts := httptest.NewServer(adapter.NewHTTPHandler(srv))
	defer ts.Close()
	client := connect.NewClient(http.DefaultClient, ts.URL)

	// The request's own context stays alive for the whole test so the
	// client-side transport never cancels the connection out from under
	// us; the short Connect-Timeout-Ms header is what the server uses to
	// decide the call has expired (spec.md §4.5/S6).
	req := &connect.Request[*wrapperspb.StringValue]{
		Msg:    wrapperspb.String("x"),
		Header: connect.Header{"Connect-Timeout-Ms": []string{"20"}},
	}
	stream, err := connect.OpenServerStream[*wrapperspb.StringValue, *wrapperspb.StringValue](
		context.Background(), client, "/test.Echo/Slow", req,
	)
	require.NoError(t, err)

	msg, err := stream.Receive()
	require.NoError(t, err)
	assert.Equal(t, "first", msg.GetValue())

	_, err = stream.Receive()
	require.Error(t, err)
	ce, ok := connect.AsError(err)
	require.True(t, ok)
	assert.Equal(t, connect.CodeDeadlineExceeded, ce.Code)
}

func TestBidiStreamRoundTrip(t *testing.T) {
	ts, client := newTestServer(t)
	defer ts.Close()

	caller := connect.OpenBidiStream[*wrapperspb.StringValue, *wrapperspb.StringValue](
		context.Background(), client, "/test.Echo/Upper", connect.Header{})

	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2; i++ {
			msg, err := caller.Receive()
			if err != nil {
				return
			}
			got = append(got, msg.GetValue())
		}
	}()

	require.NoError(t, caller.Send(wrapperspb.String("a")))
	require.NoError(t, caller.Send(wrapperspb.String("b")))
	require.NoError(t, caller.CloseSend())
	<-done

	assert.Equal(t, []string{"A", "B"}, got)
}
