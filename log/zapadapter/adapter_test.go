package zapadapter_test

import (
	"context"
	"testing"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/log/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogLevelsAndFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := zapadapter.NewLogger(zap.New(core))

	logger.Log(context.Background(), anser.LogLevelWarn, "slow query", map[string]interface{}{
		"sql": "SELECT 1",
	})
	logger.Log(context.Background(), anser.LogLevelTrace, "wire detail", nil)

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "slow query", entries[0].Message)
	assert.Equal(t, "SELECT 1", entries[0].ContextMap()["sql"])
	// Trace has no zap counterpart and reports as debug.
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

func TestLogFlattensConnectorErrors(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := zapadapter.NewLogger(zap.New(core))

	aerr := &anser.Error{
		Kind:   anser.KindRequestFailed,
		URI:    "postgresql://localhost/app",
		Query:  "UPDATE t SET x = $1",
		Server: &anser.ServerMessage{Severity: "ERROR", Code: "40001", Message: "serialization failure"},
	}
	logger.Log(context.Background(), anser.LogLevelError, "request failed", map[string]interface{}{
		"err": aerr,
	})

	entries := observed.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "40001", fields["err_sqlstate"])
	assert.Equal(t, "serialization failure", fields["err_cause"])
	assert.Equal(t, "UPDATE t SET x = $1", fields["err_query"])
}
