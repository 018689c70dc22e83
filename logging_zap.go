// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "go.uber.org/zap"

// ZapLogger adapts a *zap.Logger to the Logger interface, for applications
// that already standardize on zap for structured logging.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger as a Logger. A nil logger falls back to
// zap.NewNop(), matching NoOpLogger's discard behavior.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

func toZapFields(fields []Field) []zap.Field {
	zfields := make([]zap.Field, len(fields))
	for i, f := range fields {
		zfields[i] = zap.Any(f.Key, f.Value)
	}
	return zfields
}

// Debug logs a debug-level message with structured fields.
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	l.logger.Debug(msg, toZapFields(fields)...)
}

// Info logs an info-level message with structured fields.
func (l *ZapLogger) Info(msg string, fields ...Field) {
	l.logger.Info(msg, toZapFields(fields)...)
}

// Warn logs a warning-level message with structured fields.
func (l *ZapLogger) Warn(msg string, fields ...Field) {
	l.logger.Warn(msg, toZapFields(fields)...)
}

// Error logs an error-level message with structured fields.
func (l *ZapLogger) Error(msg string, fields ...Field) {
	l.logger.Error(msg, toZapFields(fields)...)
}

// With creates a new ZapLogger with the provided fields bound to the
// underlying zap logger's context.
func (l *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{logger: l.logger.With(toZapFields(fields)...)}
}
