// Package logrusadapter provides a logger that writes to a
// github.com/sirupsen/logrus.Logger log.
package logrusadapter

import (
	"context"

	"github.com/anserdb/anser"
	"github.com/sirupsen/logrus"
)

// emitters maps connector levels to logrus entry methods. The connector's
// trace level maps to logrus's own trace level; unrecognised levels report
// as errors.
var emitters = map[anser.LogLevel]func(*logrus.Entry, ...interface{}){
	anser.LogLevelTrace: (*logrus.Entry).Trace,
	anser.LogLevelDebug: (*logrus.Entry).Debug,
	anser.LogLevelInfo:  (*logrus.Entry).Info,
	anser.LogLevelWarn:  (*logrus.Entry).Warn,
	anser.LogLevelError: (*logrus.Entry).Error,
}

// Logger emits connector output through logrus, with connector errors
// flattened into entry fields.
type Logger struct {
	l *logrus.Logger
}

func NewLogger(l *logrus.Logger) *Logger {
	return &Logger{l: l}
}

func (pl *Logger) Log(ctx context.Context, level anser.LogLevel, msg string, data map[string]interface{}) {
	entry := logrus.NewEntry(pl.l)
	if flat := anser.FlattenLogData(data); len(flat) > 0 {
		entry = entry.WithFields(logrus.Fields(flat))
	}

	emit, ok := emitters[level]
	if !ok {
		emit = (*logrus.Entry).Error
	}
	emit(entry, msg)
}
