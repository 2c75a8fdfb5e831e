// Package testingadapter provides a logger that writes to a test or
// benchmark log.
package testingadapter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anserdb/anser"
)

// TestingLogger interface defines the subset of testing.TB methods used by
// this adapter.
type TestingLogger interface {
	Log(args ...interface{})
}

// Logger writes connector output to a test log, one line per message with
// fields in deterministic key order so assertions can match on substrings.
// Connector errors are flattened, which puts the SQLSTATE and query text
// of a failure directly in the test output.
type Logger struct {
	l TestingLogger
}

func NewLogger(l TestingLogger) *Logger {
	return &Logger{l: l}
}

func (l *Logger) Log(ctx context.Context, level anser.LogLevel, msg string, data map[string]interface{}) {
	flat := anser.FlattenLogData(data)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", level, msg)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, flat[k])
	}
	l.l.Log(sb.String())
}
