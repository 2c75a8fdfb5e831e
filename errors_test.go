package anser_test

import (
	"errors"
	"testing"

	"github.com/anserdb/anser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCauseFromSQLState(t *testing.T) {
	tests := []struct {
		code  string
		cause anser.Cause
	}{
		{"23502", anser.CauseNotNullViolation},
		{"23503", anser.CauseForeignKeyViolation},
		{"23505", anser.CauseUniqueViolation},
		{"23514", anser.CauseCheckViolation},
		{"23P01", anser.CauseExclusionViolation},
		{"23001", anser.CauseRestrictViolation},
		{"23000", anser.CauseIntegrityConstraintViolationOther},
		{"40001", anser.CauseSerializationFailure},
		{"40P01", anser.CauseDeadlockDetected},
		{"40000", anser.CauseTransactionRollbackOther},
		{"42601", anser.CauseUnspecified},
		{"", anser.CauseUnspecified},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.cause, anser.CauseFromSQLState(tt.code), "SQLSTATE %s", tt.code)
	}
}

func TestErrorCause(t *testing.T) {
	err := &anser.Error{
		Kind:   anser.KindRequestFailed,
		URI:    "postgresql://localhost/app",
		Server: &anser.ServerMessage{Severity: "ERROR", Code: "23505", Message: "duplicate key"},
	}
	assert.Equal(t, anser.CauseUniqueViolation, err.Cause())

	noServer := anser.NewRequestFailed("postgresql://localhost/app", "SELECT 1", errors.New("broken pipe"))
	assert.Equal(t, anser.CauseUnspecified, noServer.Cause())
}

func TestErrorMessages(t *testing.T) {
	err := anser.NewLoadRejected("foo://x", "Missing URI scheme.")
	assert.Equal(t, "cannot load driver for foo://x: Missing URI scheme.", err.Error())

	err = anser.NewResponseRejected("postgresql://h/db", "SELECT 1", "Received 0 tuples, expected one.")
	assert.Contains(t, err.Error(), "Received 0 tuples, expected one.")
	assert.Contains(t, err.Error(), `query "SELECT 1"`)

	assert.Equal(t, "operation not supported for this response", anser.NewUnsupported().Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := anser.NewRequestFailed("postgresql://h/db", "", cause)
	require.ErrorIs(t, err, cause)
}

func TestOrFail(t *testing.T) {
	anser.OrFail(nil)
	assert.Panics(t, func() { anser.OrFail(anser.NewUnsupported()) })
}
