// Package zerologadapter provides a logger that writes to a
// github.com/rs/zerolog.
package zerologadapter

import (
	"context"

	"github.com/anserdb/anser"
	"github.com/rs/zerolog"
)

// levels maps connector levels onto zerolog's. The connector's trace level
// has no zerolog counterpart and reports as debug.
var levels = map[anser.LogLevel]zerolog.Level{
	anser.LogLevelTrace: zerolog.DebugLevel,
	anser.LogLevelDebug: zerolog.DebugLevel,
	anser.LogLevelInfo:  zerolog.InfoLevel,
	anser.LogLevelWarn:  zerolog.WarnLevel,
	anser.LogLevelError: zerolog.ErrorLevel,
}

// Logger emits connector output as zerolog events. Connector error values
// in the data map are flattened so the error kind, SQLSTATE, cause, and
// query text appear as individual JSON fields.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger accepts a zerolog.Logger as input and returns a new custom
// anser logging facade as output.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("module", "anser").Logger(),
	}
}

func (pl *Logger) Log(ctx context.Context, level anser.LogLevel, msg string, data map[string]interface{}) {
	zlevel, ok := levels[level]
	if !ok {
		zlevel = zerolog.ErrorLevel
	}
	event := pl.logger.WithLevel(zlevel)
	for k, v := range anser.FlattenLogData(data) {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
