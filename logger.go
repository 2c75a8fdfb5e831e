package anser

import (
	"context"
	"errors"
	"fmt"
)

// The values for log levels are chosen such that the zero value means that
// no log level was specified, in which case LogLevelInfo applies.
const (
	LogLevelTrace = LogLevel(6)
	LogLevelDebug = LogLevel(5)
	LogLevelInfo  = LogLevel(4)
	LogLevelWarn  = LogLevel(3)
	LogLevelError = LogLevel(2)
	LogLevelNone  = LogLevel(1)
)

// LogLevel is the severity of a log message.
type LogLevel int

func (ll LogLevel) String() string {
	switch ll {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "none"
	default:
		return fmt.Sprintf("invalid level %d", ll)
	}
}

// Logger is the interface used to get logging from connector internals.
// Adapters for common logging packages are provided under log/.
type Logger interface {
	Log(ctx context.Context, level LogLevel, msg string, data map[string]interface{})
}

// FlattenLogData returns data with connector error values expanded into
// their structured fields: a value wrapping an *Error contributes the error
// kind, the query text, and the server's SQLSTATE and cause under keys
// derived from the original one. Other values pass through unchanged.
// Logger adapters use it so log sinks receive the error taxonomy as
// individual fields instead of one opaque message.
func FlattenLogData(data map[string]interface{}) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(data)+4)
	for k, v := range data {
		err, ok := v.(error)
		if !ok {
			out[k] = v
			continue
		}
		var aerr *Error
		if !errors.As(err, &aerr) {
			out[k] = v
			continue
		}
		out[k] = err.Error()
		out[k+"_kind"] = aerr.Kind.String()
		if aerr.Query != "" {
			out[k+"_query"] = aerr.Query
		}
		if aerr.Server != nil {
			out[k+"_sqlstate"] = aerr.Server.Code
		}
		if cause := aerr.Cause(); cause != CauseUnspecified {
			out[k+"_cause"] = cause.String()
		}
	}
	return out
}

// LogLevelFromString converts a log level string to the constant value.
//
// Valid levels:
//
//	trace
//	debug
//	info
//	warn
//	error
//	none
func LogLevelFromString(s string) (LogLevel, error) {
	switch s {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none":
		return LogLevelNone, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}
