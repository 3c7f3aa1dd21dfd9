// Package logger provides logging for steward.
//
// ConsoleLogger writes leveled, timestamped operator output. TraceLogger
// captures every decision-gateway attempt as one JSON line per event so a
// misbehaving model conversation can be replayed offline. Both are safe for
// concurrent use.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs to a writer with [HH:MM:SS] timestamps and thread safety.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	if w == os.Stdout || w == os.Stderr {
		// The color library's detection also honors NO_COLOR.
		return !color.NoColor
	}
	return false
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	default:
		return "info"
	}
}

func levelValue(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// shouldLog reports whether a message at the given level passes the filter.
func (l *ConsoleLogger) shouldLog(messageLevel int) bool {
	return messageLevel >= levelValue(l.logLevel)
}

func (l *ConsoleLogger) log(messageLevel int, prefix string, colorize func(format string, a ...interface{}) string, format string, args ...interface{}) {
	if l.writer == nil || !l.shouldLog(messageLevel) {
		return
	}
	timestamp := time.Now().Format("15:04:05")
	message := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s %s\n", timestamp, prefix, message)
	if l.colorOutput && colorize != nil {
		line = fmt.Sprintf("[%s] %s %s\n", timestamp, colorize("%s", prefix), message)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	fmt.Fprint(l.writer, line)
}

// Tracef logs a trace-level message.
func (l *ConsoleLogger) Tracef(format string, args ...interface{}) {
	l.log(levelTrace, "TRACE", color.WhiteString, format, args...)
}

// Debugf logs a debug-level message.
func (l *ConsoleLogger) Debugf(format string, args ...interface{}) {
	l.log(levelDebug, "DEBUG", color.CyanString, format, args...)
}

// Infof logs an info-level message.
func (l *ConsoleLogger) Infof(format string, args ...interface{}) {
	l.log(levelInfo, "INFO ", color.GreenString, format, args...)
}

// Warnf logs a warn-level message.
func (l *ConsoleLogger) Warnf(format string, args ...interface{}) {
	l.log(levelWarn, "WARN ", color.YellowString, format, args...)
}

// Errorf logs an error-level message.
func (l *ConsoleLogger) Errorf(format string, args ...interface{}) {
	l.log(levelError, "ERROR", color.RedString, format, args...)
}
