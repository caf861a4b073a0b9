package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level orders log severities
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps LOG_LEVEL values to a Level, defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var defaultLevel = ParseLevel(os.Getenv("LOG_LEVEL"))

// Logger provides structured logging for the worker
type Logger struct {
	prefix string
	level  Level
	logger *log.Logger
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return NewLoggerTo(os.Stdout, prefix, defaultLevel)
}

// NewLoggerTo creates a logger writing to w at the given minimum level
func NewLoggerTo(w io.Writer, prefix string, level Level) *Logger {
	return &Logger{
		prefix: prefix,
		level:  level,
		logger: log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
	}
}

// Named returns a logger sharing the output with a nested prefix
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		prefix: l.prefix + "." + name,
		level:  l.level,
		logger: log.New(l.logger.Writer(), fmt.Sprintf("[%s.%s] ", l.prefix, name), l.logger.Flags()),
	}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(LevelInfo, "INFO", msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(LevelWarn, "WARN", msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(LevelError, "ERROR", msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(LevelDebug, "DEBUG", msg, keysAndValues...)
}

func (l *Logger) logWithKV(level Level, tag, msg string, keysAndValues ...interface{}) {
	if level < l.level {
		return
	}
	kvStr := ""
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			kvStr += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
		}
	}
	l.logger.Printf("[%s] %s%s", tag, msg, kvStr)
}
