// Package logging provides structured logging for gatekeeper decisions,
// break-glass escalations, and card-authorization outcomes. It defines a
// Logger interface and implementations for JSON output and no-op logging.
package logging

import (
	"encoding/json"
	"io"
)

// Logger defines the interface for logging the trust proxy's three
// audited event families.
type Logger interface {
	// LogDecision logs a gatekeeper authorization decision.
	LogDecision(entry DecisionLogEntry)

	// LogBreakGlass logs a break-glass escalation lifecycle event.
	LogBreakGlass(entry BreakGlassLogEntry)

	// LogCardAuthorization logs a card-network authorization outcome.
	LogCardAuthorization(entry CardAuthorizationLogEntry)
}

// JSONLogger implements Logger with JSON Lines output.
// Each entry is written as a single line of JSON suitable for log aggregation.
type JSONLogger struct {
	writer io.Writer
}

// NewJSONLogger creates a new JSONLogger that writes to the given writer.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{writer: w}
}

func (l *JSONLogger) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.Write([]byte("\n"))
}

// LogDecision writes the entry as a single line of JSON.
func (l *JSONLogger) LogDecision(entry DecisionLogEntry) { l.write(entry) }

// LogBreakGlass writes the entry as a single line of JSON.
func (l *JSONLogger) LogBreakGlass(entry BreakGlassLogEntry) { l.write(entry) }

// LogCardAuthorization writes the entry as a single line of JSON.
func (l *JSONLogger) LogCardAuthorization(entry CardAuthorizationLogEntry) { l.write(entry) }

// NopLogger implements Logger but discards all entries.
// Useful for testing or when logging is disabled.
type NopLogger struct{}

// NewNopLogger creates a new NopLogger that discards all entries.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// LogDecision discards the entry.
func (l *NopLogger) LogDecision(entry DecisionLogEntry) {}

// LogBreakGlass discards the entry.
func (l *NopLogger) LogBreakGlass(entry BreakGlassLogEntry) {}

// LogCardAuthorization discards the entry.
func (l *NopLogger) LogCardAuthorization(entry CardAuthorizationLogEntry) {}
