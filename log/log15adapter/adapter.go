// Package log15adapter provides a logger that writes to a
// gopkg.in/inconshreveable/log15.v2.Logger log.
package log15adapter

import (
	"context"

	"github.com/anserdb/anser"
	log15 "gopkg.in/inconshreveable/log15.v2"
)

// Logger emits connector output through log15. Field maps become log15
// context pairs, with connector errors flattened so the error kind,
// SQLSTATE, cause, and query text are individual pairs.
type Logger struct {
	l log15.Logger
}

func NewLogger(l log15.Logger) *Logger {
	return &Logger{l: l}
}

func (pl *Logger) Log(ctx context.Context, level anser.LogLevel, msg string, data map[string]interface{}) {
	flat := anser.FlattenLogData(data)
	args := make([]interface{}, 0, 2*len(flat))
	for k, v := range flat {
		args = append(args, k, v)
	}

	// log15 has no trace level; trace folds into debug, and anything
	// unrecognised reports as an error.
	switch {
	case level >= anser.LogLevelDebug:
		pl.l.Debug(msg, args...)
	case level == anser.LogLevelInfo:
		pl.l.Info(msg, args...)
	case level == anser.LogLevelWarn:
		pl.l.Warn(msg, args...)
	default:
		pl.l.Error(msg, args...)
	}
}
