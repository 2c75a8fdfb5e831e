package pqconn

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgproto3/v2"
)

// ErrConnClosed is returned for operations on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// PgError represents an error reported by the PostgreSQL server.
type PgError struct {
	Severity       string
	Code           string
	Message        string
	Detail         string
	Hint           string
	Position       int32
	Where          string
	SchemaName     string
	TableName      string
	ColumnName     string
	DataTypeName   string
	ConstraintName string
	File           string
	Line           int32
	Routine        string
}

func (pe *PgError) Error() string {
	return pe.Severity + ": " + pe.Message + " (SQLSTATE " + pe.Code + ")"
}

// SQLState returns the SQLSTATE of the error.
func (pe *PgError) SQLState() string { return pe.Code }

func errorResponseToPgError(msg *pgproto3.ErrorResponse) *PgError {
	return &PgError{
		Severity:       msg.Severity,
		Code:           msg.Code,
		Message:        msg.Message,
		Detail:         msg.Detail,
		Hint:           msg.Hint,
		Position:       msg.Position,
		Where:          msg.Where,
		SchemaName:     msg.SchemaName,
		TableName:      msg.TableName,
		ColumnName:     msg.ColumnName,
		DataTypeName:   msg.DataTypeName,
		ConstraintName: msg.ConstraintName,
		File:           msg.File,
		Line:           msg.Line,
		Routine:        msg.Routine,
	}
}

// Notice is a non-error message reported by the server.
type Notice struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Hint     string
}

func noticeResponseToNotice(msg *pgproto3.NoticeResponse) *Notice {
	return &Notice{
		Severity: msg.Severity,
		Code:     msg.Code,
		Message:  msg.Message,
		Detail:   msg.Detail,
		Hint:     msg.Hint,
	}
}

// IsConnectionError reports whether err indicates a lost or unusable
// connection, as opposed to a server-side statement failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var pgErr *PgError
	if errors.As(err, &pgErr) {
		// Class 08 - Connection Exception
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
