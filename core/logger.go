package core

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior; the default one is backed by logrus.
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// LogrusLogger adapts a logrus entry to Logger.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps the given logrus logger. A nil logger yields a new logrus logger writing to stderr.
func NewLogrusLogger(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.New()
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// NewDefaultLogger creates a text-formatted logrus logger at the given level ("debug", "info", ...).
// Unknown levels fall back to info.
func NewDefaultLogger(level string) *LogrusLogger {
	return newLogrusLoggerTo(os.Stderr, level)
}

func newLogrusLoggerTo(w io.Writer, level string) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return NewLogrusLogger(l)
}

// With returns a child logger that always carries the given fields.
func (l *LogrusLogger) With(fields ...Field) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithFields(toLogrusFields(fields))}
}

// Debug logs a debug message
func (l *LogrusLogger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Debug(msg)
}

// Info logs an info message
func (l *LogrusLogger) Info(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Info(msg)
}

// Warn logs a warning message
func (l *LogrusLogger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Warn(msg)
}

// Error logs an error message
func (l *LogrusLogger) Error(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Error(msg)
}

func toLogrusFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}

// =============================================================================
// Quiesce Budget
// =============================================================================

// QuiesceBudget bounds the busy-wait used while a queue settles during teardown.
type QuiesceBudget struct {
	// MaxRetries is the maximum number of re-checks after the first one (0 = check once)
	MaxRetries int

	// InitialDelay is the pause before the first re-check
	InitialDelay time.Duration

	// MaxDelay caps the pause between re-checks
	MaxDelay time.Duration

	// BackoffRatio is the multiplier for the pause after each re-check.
	// With InitialDelay=1ms and BackoffRatio=2.0 the pauses are 1ms, 2ms, 4ms, ...
	BackoffRatio float64
}

// DefaultQuiesceBudget returns the small bounded budget used by queue teardown.
func DefaultQuiesceBudget() QuiesceBudget {
	return QuiesceBudget{
		MaxRetries:   8,
		InitialDelay: time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		BackoffRatio: 2.0,
	}
}

// NoQuiesceWait returns a budget that checks exactly once.
func NoQuiesceWait() QuiesceBudget {
	return QuiesceBudget{BackoffRatio: 1.0}
}

// delay calculates the pause before the given re-check.
// attempt is 0-indexed (0 = first re-check, 1 = second re-check, etc.)
func (b QuiesceBudget) delay(attempt int) time.Duration {
	if b.InitialDelay == 0 {
		return 0
	}

	d := float64(b.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= b.BackoffRatio
	}

	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}

	return time.Duration(d)
}

// await re-evaluates settled until it reports true or the budget is exhausted.
func (b QuiesceBudget) await(settled func() bool) bool {
	if settled() {
		return true
	}
	for attempt := 0; attempt < b.MaxRetries; attempt++ {
		time.Sleep(b.delay(attempt))
		if settled() {
			return true
		}
	}
	return false
}
