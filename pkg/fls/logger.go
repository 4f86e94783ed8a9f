package fls

import (
	"context"
	"sync/atomic"
)

// Logger receives diagnostics from fls. Implementations must be safe for
// concurrent use.
type Logger interface {
	// Debug logs misuse that is reported to the caller anyway, such as
	// invalid keys.
	Debug(ctx context.Context, format string, args ...any)

	// Info logs informational messages.
	Info(ctx context.Context, format string, args ...any)

	// Warn logs values dropped by finalize.
	Warn(ctx context.Context, format string, args ...any)

	// Error logs error messages.
	Error(ctx context.Context, format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

type loggerHolder struct{ Logger }

var currentLogger atomic.Pointer[loggerHolder]

// SetLogger installs l for package diagnostics. nil restores the default,
// which discards everything.
func SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}

	currentLogger.Store(&loggerHolder{l})
}

func logger() Logger {
	if h := currentLogger.Load(); h != nil {
		return h.Logger
	}

	return noopLogger{}
}
