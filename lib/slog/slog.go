// Package slog is the server's structured logging abstraction. It keeps a
// small Logger interface so handler code never imports a logging library
// directly, backed by zerolog for actual output.
package slog

import (
	"os"
	"tcplb/lib/core"

	"github.com/rs/zerolog"
)

// LogRecord holds data for a single server log record.
type LogRecord struct {
	Msg        string         `json:"msg,omitempty"`        // Msg is an optional log message
	Error      error          `json:"error,omitempty"`      // Error is an optional error
	Details    any            `json:"details,omitempty"`    // Details are optional details
	StackTrace string         `json:"stacktrace,omitempty"` // StackTrace is optional stack trace
	Upstream   *core.Upstream `json:"upstream,omitempty"`   // Upstream is optional upstream, if known.
}

// Logger is an abstract log interface for the server.
//
// Multiple goroutines may invoke methods on a Logger simultaneously.
type Logger interface {
	Info(record *LogRecord)
	Warn(record *LogRecord)
	Error(record *LogRecord)
}

// zerologShim adapts LogRecord onto a zerolog.Logger.
type zerologShim struct {
	logger zerolog.Logger
}

func logRecord(event *zerolog.Event, record *LogRecord) {
	if record == nil {
		event.Send()
		return
	}
	if record.Error != nil {
		event = event.Err(record.Error)
	}
	if record.Details != nil {
		event = event.Interface("details", record.Details)
	}
	if record.StackTrace != "" {
		event = event.Str("stacktrace", record.StackTrace)
	}
	if record.Upstream != nil {
		event = event.Stringer("upstream", *record.Upstream)
	}
	event.Msg(record.Msg)
}

func (s *zerologShim) Info(record *LogRecord) {
	logRecord(s.logger.Info(), record)
}

func (s *zerologShim) Warn(record *LogRecord) {
	logRecord(s.logger.Warn(), record)
}

func (s *zerologShim) Error(record *LogRecord) {
	logRecord(s.logger.Error(), record)
}

// NewLogger returns a Logger that writes structured JSON lines to stderr at
// the given minimum level.
func NewLogger(level zerolog.Level) Logger {
	base := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	return &zerologShim{logger: base}
}

// GetDefaultLogger returns the default Logger, at Info level.
func GetDefaultLogger() Logger {
	return NewLogger(zerolog.InfoLevel)
}

// RecordingLogger captures all logged events in memory.
// It is designed for use as a test fixture.
type RecordingLogger struct {
	Events []Event
}

type Event struct {
	Level string
	*LogRecord
}

func (l *RecordingLogger) Info(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "info", LogRecord: record})
}

func (l *RecordingLogger) Warn(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "warn", LogRecord: record})
}

func (l *RecordingLogger) Error(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "error", LogRecord: record})
}

var _ Logger = (*RecordingLogger)(nil) // type check
