// Package zapadapter provides a logger that writes to a go.uber.org/zap.Logger.
package zapadapter

import (
	"context"

	"github.com/anserdb/anser"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger emits connector output through a zap core. Levels are checked
// before field translation so disabled levels cost nothing; connector
// errors are flattened into typed fields.
type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (pl *Logger) Log(ctx context.Context, level anser.LogLevel, msg string, data map[string]interface{}) {
	ce := pl.logger.Check(zapLevel(level), msg)
	if ce == nil {
		return
	}

	flat := anser.FlattenLogData(data)
	fields := make([]zapcore.Field, 0, len(flat))
	for k, v := range flat {
		fields = append(fields, zap.Any(k, v))
	}
	ce.Write(fields...)
}

// zapLevel folds the connector's levels onto zap's: trace has no zap
// counterpart and reports as debug, anything unrecognised as error.
func zapLevel(level anser.LogLevel) zapcore.Level {
	switch level {
	case anser.LogLevelTrace, anser.LogLevelDebug:
		return zapcore.DebugLevel
	case anser.LogLevelInfo:
		return zapcore.InfoLevel
	case anser.LogLevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
