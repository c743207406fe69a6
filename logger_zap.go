package realtime

import (
	"sort"

	"go.uber.org/zap"
)

// ZapLogger adapts a *zap.Logger to Logger. The level set here filters
// before zap's own core level is consulted.
type ZapLogger struct {
	logger *zap.Logger
	level  LogLevel
}

// NewZapLogger wraps l. A nil logger is replaced by zap.NewNop.
func NewZapLogger(l *zap.Logger, level LogLevel) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{logger: l, level: level}
}

// Debug logs a debug message.
func (z *ZapLogger) Debug(msg string, fields LogFields) {
	if z.level <= LogLevelDebug {
		z.logger.Debug(msg, zapFields(fields)...)
	}
}

// Info logs an info message.
func (z *ZapLogger) Info(msg string, fields LogFields) {
	if z.level <= LogLevelInfo {
		z.logger.Info(msg, zapFields(fields)...)
	}
}

// Warn logs a warning message.
func (z *ZapLogger) Warn(msg string, fields LogFields) {
	if z.level <= LogLevelWarn {
		z.logger.Warn(msg, zapFields(fields)...)
	}
}

// Error logs an error message.
func (z *ZapLogger) Error(msg string, fields LogFields) {
	if z.level <= LogLevelError {
		z.logger.Error(msg, zapFields(fields)...)
	}
}

// WithFields returns a logger whose zap core carries fields.
func (z *ZapLogger) WithFields(fields LogFields) Logger {
	return &ZapLogger{
		logger: z.logger.With(zapFields(fields)...),
		level:  z.level,
	}
}

// Level returns the current log level.
func (z *ZapLogger) Level() LogLevel { return z.level }

// SetLevel sets the log level.
func (z *ZapLogger) SetLevel(level LogLevel) { z.level = level }

// Unwrap returns the underlying zap logger.
func (z *ZapLogger) Unwrap() *zap.Logger { return z.logger }

func zapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
