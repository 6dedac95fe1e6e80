// Command connectrt-serve runs an example server exposing one unary and
// one server-streaming method, wired through the connect engine and a
// plain net/http listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/connectrt-go/connectrt/connect"
	"github.com/connectrt-go/connectrt/connect/adapter"
)

type serveOptions struct {
	port            int
	host            string
	h2c             bool
	gracefulTimeout time.Duration
}

func main() {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:   "connectrt-serve [flags]",
		Short: "Run an example Connect RPC server",
		Long: `Run an example Connect RPC server exposing an echo-style unary
method and a counting server-streaming method.

Examples:
  # Start on the default port
  connectrt-serve

  # Start on a specific port with h2c enabled
  connectrt-serve --port 9090 --h2c`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	root.Flags().IntVarP(&opts.port, "port", "p", 8080, "server port")
	root.Flags().StringVar(&opts.host, "host", "0.0.0.0", "server host")
	root.Flags().BoolVar(&opts.h2c, "h2c", false, "accept cleartext HTTP/2 (h2c)")
	root.Flags().DurationVar(&opts.gracefulTimeout, "graceful-timeout", 10*time.Second, "graceful shutdown timeout")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *serveOptions) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	srv := connect.NewServer(connect.WithLogger(logger))

	err = connect.RegisterUnary(srv, "/example.v1.Echo/Say",
		connect.UnaryHandler[*wrapperspb.StringValue, *wrapperspb.StringValue](func(ctx context.Context, req *connect.Request[*wrapperspb.StringValue]) (*connect.Response[*wrapperspb.StringValue], error) {
			return connect.NewResponse(wrapperspb.String("echo: " + req.Msg.GetValue())), nil
		}))
	if err != nil {
		return fmt.Errorf("register Say: %w", err)
	}

	err = connect.RegisterServerStream(srv, "/example.v1.Echo/Count",
		connect.ServerStreamHandler[*wrapperspb.StringValue, *wrapperspb.StringValue](func(ctx context.Context, req *connect.Request[*wrapperspb.StringValue], stream *connect.ServerStream[*wrapperspb.StringValue]) error {
			words := strings.Fields(req.Msg.GetValue())
			for i, w := range words {
				if err := stream.Send(wrapperspb.String(fmt.Sprintf("%d: %s", i+1, w))); err != nil {
					return err
				}
			}
			return nil
		}))
	if err != nil {
		return fmt.Errorf("register Count: %w", err)
	}

	handler := adapter.NewHTTPHandler(srv)
	if opts.h2c {
		handler = adapter.NewH2CHandler(handler)
	}

	addr := fmt.Sprintf("%s:%d", opts.host, opts.port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
		// No WriteTimeout: a streaming Connect response can legitimately
		// stay open far longer than any fixed per-request cap; the
		// Connect-Timeout-Ms deadline, not net/http, bounds a call.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), opts.gracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
