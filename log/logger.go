package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
)

// Level represents logging severity.
type Level int

const (
	// LevelDebug for detailed execution traces.
	LevelDebug Level = iota
	// LevelInfo for run lifecycle messages.
	LevelInfo
	// LevelWarn for recoverable conditions such as retries.
	LevelWarn
	// LevelError for failures.
	LevelError
	// LevelNone disables all logging.
	LevelNone
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// Logger is the logging interface consumed by the engine and the
// checkpoint stores. Implementations must be safe for concurrent use,
// since frontier nodes log from separate goroutines.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// StdLogger implements Logger on top of the standard library log package.
type StdLogger struct {
	out   *stdlog.Logger
	level Level
}

// NewStdLogger creates a logger writing to stderr at the given level.
func NewStdLogger(level Level) *StdLogger {
	return NewWriterLogger(os.Stderr, level)
}

// NewWriterLogger creates a logger writing to out at the given level.
func NewWriterLogger(out io.Writer, level Level) *StdLogger {
	return &StdLogger{
		out:   stdlog.New(out, "[flowgraph] ", stdlog.LstdFlags),
		level: level,
	}
}

func (l *StdLogger) log(at Level, format string, v ...any) {
	if l.level > at {
		return
	}
	l.out.Printf("["+at.String()+"] "+format, v...)
}

// Debug logs a debug message.
func (l *StdLogger) Debug(format string, v ...any) { l.log(LevelDebug, format, v...) }

// Info logs an informational message.
func (l *StdLogger) Info(format string, v ...any) { l.log(LevelInfo, format, v...) }

// Warn logs a warning message.
func (l *StdLogger) Warn(format string, v ...any) { l.log(LevelWarn, format, v...) }

// Error logs an error message.
func (l *StdLogger) Error(format string, v ...any) { l.log(LevelError, format, v...) }

// NoOpLogger discards everything. Useful in tests and for callers
// that want the engine silent.
type NoOpLogger struct{}

// Debug does nothing.
func (NoOpLogger) Debug(format string, v ...any) {}

// Info does nothing.
func (NoOpLogger) Info(format string, v ...any) {}

// Warn does nothing.
func (NoOpLogger) Warn(format string, v ...any) {}

// Error does nothing.
func (NoOpLogger) Error(format string, v ...any) {}

var defaultLogger Logger = NewStdLogger(LevelInfo)

// SetDefault replaces the package-level logger.
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// Default returns the package-level logger.
func Default() Logger {
	return defaultLogger
}
