package anser

import (
	"fmt"
	"strings"
)

// Kind tags an *Error with the phase that produced it.
type Kind int

const (
	// KindLoadRejected means the URI could not be mapped to a driver.
	KindLoadRejected Kind = iota
	// KindConnectFailed means the server refused to establish a connection.
	KindConnectFailed
	// KindPostConnect means the connection was established but session
	// startup failed.
	KindPostConnect
	// KindRequestFailed means a wire-level or transport failure occurred
	// during a send/await cycle.
	KindRequestFailed
	// KindResponseRejected means the server responded but the shape of the
	// response violated the request's contract.
	KindResponseRejected
	// KindEncodeMissing means no coding is available for a parameter type.
	KindEncodeMissing
	// KindEncodeRejected means a coding refused a parameter value.
	KindEncodeRejected
	// KindDecodeMissing means no coding is available for a row type.
	KindDecodeMissing
	// KindDecodeRejected means a coding refused a row value.
	KindDecodeRejected
	// KindUnsupported means the operation is not meaningful for the current
	// response.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindLoadRejected:
		return "load rejected"
	case KindConnectFailed:
		return "connect failed"
	case KindPostConnect:
		return "post-connect failed"
	case KindRequestFailed:
		return "request failed"
	case KindResponseRejected:
		return "response rejected"
	case KindEncodeMissing:
		return "encoding missing"
	case KindEncodeRejected:
		return "encoding rejected"
	case KindDecodeMissing:
		return "decoding missing"
	case KindDecodeRejected:
		return "decoding rejected"
	case KindUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Cause is a categorical classification of a server-reported error derived
// from its SQLSTATE.
type Cause int

const (
	CauseUnspecified Cause = iota
	CauseNotNullViolation
	CauseForeignKeyViolation
	CauseUniqueViolation
	CauseCheckViolation
	CauseExclusionViolation
	CauseRestrictViolation
	CauseIntegrityConstraintViolationOther
	CauseSerializationFailure
	CauseDeadlockDetected
	CauseTransactionRollbackOther
)

func (c Cause) String() string {
	switch c {
	case CauseNotNullViolation:
		return "not-null violation"
	case CauseForeignKeyViolation:
		return "foreign-key violation"
	case CauseUniqueViolation:
		return "unique violation"
	case CauseCheckViolation:
		return "check violation"
	case CauseExclusionViolation:
		return "exclusion violation"
	case CauseRestrictViolation:
		return "restrict violation"
	case CauseIntegrityConstraintViolationOther:
		return "integrity-constraint violation"
	case CauseSerializationFailure:
		return "serialization failure"
	case CauseDeadlockDetected:
		return "deadlock detected"
	case CauseTransactionRollbackOther:
		return "transaction rollback"
	}
	return "unspecified"
}

// CauseFromSQLState maps a five-character SQLSTATE to a Cause.
func CauseFromSQLState(code string) Cause {
	switch code {
	case "23001":
		return CauseRestrictViolation
	case "23502":
		return CauseNotNullViolation
	case "23503":
		return CauseForeignKeyViolation
	case "23505":
		return CauseUniqueViolation
	case "23514":
		return CauseCheckViolation
	case "23P01":
		return CauseExclusionViolation
	case "40001":
		return CauseSerializationFailure
	case "40P01":
		return CauseDeadlockDetected
	}
	switch {
	case strings.HasPrefix(code, "23"):
		return CauseIntegrityConstraintViolationOther
	case strings.HasPrefix(code, "40"):
		return CauseTransactionRollbackOther
	}
	return CauseUnspecified
}

// ServerMessage carries the structured fields of an error or notice reported
// by the server.
type ServerMessage struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Hint     string
}

func (m *ServerMessage) String() string {
	if m.Code == "" {
		return m.Severity + ": " + m.Message
	}
	return m.Severity + ": " + m.Message + " (SQLSTATE " + m.Code + ")"
}

// Error is the error value produced by every phase of the connector. Kind
// identifies the phase, URI the connection endpoint (with any password
// redacted), and Query the offending query text when one exists. Server is
// set when the message originates from the server; Err wraps an underlying
// transport or coding error.
type Error struct {
	Kind   Kind
	URI    string
	Query  string
	Msg    string
	Server *ServerMessage
	Err    error
}

func (e *Error) message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Server != nil {
		return e.Server.String()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Error() string {
	var sb strings.Builder
	switch e.Kind {
	case KindLoadRejected:
		fmt.Fprintf(&sb, "cannot load driver for %s: %s", e.URI, e.message())
	case KindConnectFailed:
		fmt.Fprintf(&sb, "failed to connect to %s: %s", e.URI, e.message())
	case KindPostConnect:
		fmt.Fprintf(&sb, "connected to %s but session startup failed: %s", e.URI, e.message())
	case KindUnsupported:
		sb.WriteString("operation not supported for this response")
	default:
		fmt.Fprintf(&sb, "%s for %s: %s", e.Kind, e.URI, e.message())
		if e.Query != "" {
			fmt.Fprintf(&sb, " (query %q)", e.Query)
		}
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Cause classifies a server-reported error by its SQLSTATE. It returns
// CauseUnspecified for errors without a server message.
func (e *Error) Cause() Cause {
	if e.Server == nil {
		return CauseUnspecified
	}
	return CauseFromSQLState(e.Server.Code)
}

// NewError builds an *Error. Driver implementations use the kind-specific
// constructors below instead.
func NewError(kind Kind, uri, query, msg string) *Error {
	return &Error{Kind: kind, URI: uri, Query: query, Msg: msg}
}

// NewLoadRejected reports that uri could not be mapped to a driver.
func NewLoadRejected(uri, msg string) *Error {
	return &Error{Kind: KindLoadRejected, URI: uri, Msg: msg}
}

// NewConnectFailed reports a refused connection attempt.
func NewConnectFailed(uri string, err error) *Error {
	return &Error{Kind: KindConnectFailed, URI: uri, Err: err}
}

// NewPostConnect reports a session-startup failure after a successful
// connect.
func NewPostConnect(uri string, err error) *Error {
	return &Error{Kind: KindPostConnect, URI: uri, Err: err}
}

// NewRequestFailed reports a transport failure during a send/await cycle.
func NewRequestFailed(uri, query string, err error) *Error {
	return &Error{Kind: KindRequestFailed, URI: uri, Query: query, Err: err}
}

// NewResponseRejected reports a response whose shape violated the request's
// contract.
func NewResponseRejected(uri, query, msg string) *Error {
	return &Error{Kind: KindResponseRejected, URI: uri, Query: query, Msg: msg}
}

// NewEncodeMissing reports that no coding is available to encode a value of
// the named type.
func NewEncodeMissing(uri, query, typeName string) *Error {
	return &Error{Kind: KindEncodeMissing, URI: uri, Query: query, Msg: "no encoding for " + typeName}
}

// NewEncodeRejected reports that a coding refused a parameter value.
func NewEncodeRejected(uri, query, typeName string, err error) *Error {
	return &Error{Kind: KindEncodeRejected, URI: uri, Query: query, Msg: "cannot encode " + typeName, Err: err}
}

// NewDecodeMissing reports that no coding is available to decode a value of
// the named type.
func NewDecodeMissing(uri, query, typeName string) *Error {
	return &Error{Kind: KindDecodeMissing, URI: uri, Query: query, Msg: "no decoding for " + typeName}
}

// NewDecodeRejected reports that a coding refused a row value.
func NewDecodeRejected(uri, query, typeName string, err error) *Error {
	return &Error{Kind: KindDecodeRejected, URI: uri, Query: query, Msg: "cannot decode " + typeName, Err: err}
}

// NewUnsupported reports an operation that is not meaningful for the current
// response.
func NewUnsupported() *Error {
	return &Error{Kind: KindUnsupported}
}

// OrFail panics when err is non-nil. It is a convenience for adapter
// boundaries and interactive use; library code should propagate the error
// value instead.
func OrFail(err error) {
	if err != nil {
		panic(err)
	}
}
