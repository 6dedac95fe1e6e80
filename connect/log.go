package connect

import "go.uber.org/zap"

// nopLogger is used whenever a Server or Client isn't given one
// explicitly, so the engine never has to nil-check before logging.
func nopLogger() *zap.Logger {
	return zap.NewNop()
}

// logHandlerError logs a handler-reported *Error at Debug (expected,
// user-controlled outcome) and anything else at Error (a bug or crash
// in handler code), matching the severity split spec.md §7 draws
// between "Handler-reported" and "Handler crash" error kinds.
func logHandlerError(logger *zap.Logger, method string, err error) {
	if ce, ok := AsError(err); ok {
		logger.Debug("rpc handler returned error",
			zap.String("method", method),
			zap.String("code", string(ce.Code)),
			zap.String("message", ce.Message),
		)
		return
	}
	logger.Error("rpc handler error",
		zap.String("method", method),
		zap.Error(err),
	)
}

// logHandlerPanic logs a recovered panic from user handler code.
func logHandlerPanic(logger *zap.Logger, method string, recovered any) {
	logger.Error("rpc handler panicked",
		zap.String("method", method),
		zap.Any("recovered", recovered),
	)
}
