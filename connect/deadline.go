package connect

import (
	"context"
	"strconv"
	"time"
)

// TimeoutHeader is the header name carrying the caller's deadline, in
// whole milliseconds (spec.md §4.5).
const TimeoutHeader = "Connect-Timeout-Ms"

// parseTimeoutHeader parses the Connect-Timeout-Ms header. An absent
// header yields (0, false, nil): no deadline. A present-but-malformed or
// negative value is a protocol error.
func parseTimeoutHeader(value string) (time.Duration, bool, error) {
	if value == "" {
		return 0, false, nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms < 0 {
		return 0, false, Errorf(CodeInvalidArgument, "invalid %s header %q", TimeoutHeader, value)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// formatTimeoutHeader renders a duration as the header expects, in whole
// milliseconds; a negative duration is rendered as "0".
func formatTimeoutHeader(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms, 10)
}

// withDeadline derives a context bound by the Connect-Timeout-Ms header,
// if present. Per spec.md's boundary behavior, "Connect-Timeout-Ms: 0"
// means already expired, signaled by returning ctx unchanged along with
// expired=true so the caller can short-circuit before dispatching the
// handler.
func withDeadline(ctx context.Context, header string) (context.Context, context.CancelFunc, bool, error) {
	timeout, ok, err := parseTimeoutHeader(header)
	if err != nil {
		return ctx, func() {}, false, err
	}
	if !ok {
		return ctx, func() {}, false, nil
	}
	if timeout <= 0 {
		return ctx, func() {}, true, nil
	}
	newCtx, cancel := context.WithTimeout(ctx, timeout)
	return newCtx, cancel, false, nil
}

// applyTimeoutHeader sets Connect-Timeout-Ms on an outbound request from
// ctx's deadline, if any, rounding down to whole milliseconds and never
// sending a negative value (spec.md §6, "per-call timeout ... emits
// Connect-Timeout-Ms when set"). Callers derive the deadline on ctx
// itself (e.g. via context.WithTimeout) rather than a separate timeout
// parameter, the idiomatic Go equivalent of spec.md §4.6's optional
// `timeout_seconds` argument.
func applyTimeoutHeader(ctx context.Context, header Header) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return
	}
	header.Set(TimeoutHeader, formatTimeoutHeader(time.Until(deadline)))
}

// checkDeadline is the mandatory check point spec.md §4.5 requires
// between emitting messages and before yielding one to the user. It
// returns a deadline_exceeded or canceled *Error if ctx has ended.
func checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errorFromContext(ctx)
	default:
		return nil
	}
}

// errorFromContext maps ctx.Err() to the matching Connect code
// (spec.md §4.5/§5, "Cancellation semantics").
func errorFromContext(ctx context.Context) *Error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return NewError(CodeDeadlineExceeded, "deadline exceeded")
	case context.Canceled:
		return NewError(CodeCanceled, "request canceled")
	default:
		return Errorf(CodeUnknown, "context ended: %v", ctx.Err())
	}
}
