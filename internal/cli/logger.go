package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

// writerLogger prints fls diagnostics as "level: message" lines.
type writerLogger struct {
	w     io.Writer
	debug bool
}

var _ fls.Logger = (*writerLogger)(nil)

func (l *writerLogger) Debug(_ context.Context, format string, args ...any) {
	if l.debug {
		l.print("debug", format, args...)
	}
}

func (l *writerLogger) Info(_ context.Context, format string, args ...any) {
	l.print("info", format, args...)
}

func (l *writerLogger) Warn(_ context.Context, format string, args ...any) {
	l.print("warn", format, args...)
}

func (l *writerLogger) Error(_ context.Context, format string, args ...any) {
	l.print("error", format, args...)
}

func (l *writerLogger) print(level, format string, args ...any) {
	_, _ = fmt.Fprintf(l.w, "%s: %s\n", level, fmt.Sprintf(format, args...))
}
