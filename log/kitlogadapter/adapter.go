// Package kitlogadapter provides a logger that writes to a
// github.com/go-kit/log.Logger.
package kitlogadapter

import (
	"context"

	"github.com/anserdb/anser"
	"github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"
)

// Logger emits connector output as a single go-kit keyval record per
// message: the message under "msg", the level through the go-kit level
// wrappers, and the data map flattened so connector errors contribute
// their kind, SQLSTATE, cause, and query text as individual keys.
type Logger struct {
	l log.Logger
}

func NewLogger(l log.Logger) *Logger {
	return &Logger{l: l}
}

func (l *Logger) Log(ctx context.Context, level anser.LogLevel, msg string, data map[string]interface{}) {
	flat := anser.FlattenLogData(data)
	keyvals := make([]interface{}, 0, 2+2*len(flat))
	keyvals = append(keyvals, "msg", msg)
	for k, v := range flat {
		keyvals = append(keyvals, k, v)
	}
	l.leveled(level).Log(keyvals...)
}

// leveled wraps the sink in the go-kit level matching the connector
// level. Trace folds into debug; unrecognised levels report as errors.
func (l *Logger) leveled(level anser.LogLevel) log.Logger {
	switch level {
	case anser.LogLevelTrace, anser.LogLevelDebug:
		return kitlevel.Debug(l.l)
	case anser.LogLevelInfo:
		return kitlevel.Info(l.l)
	case anser.LogLevelWarn:
		return kitlevel.Warn(l.l)
	default:
		return kitlevel.Error(l.l)
	}
}
