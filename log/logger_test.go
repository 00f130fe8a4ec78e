package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Level
	}{
		{"debug level", "debug", LevelDebug},
		{"info level", "info", LevelInfo},
		{"warn level", "warn", LevelWarn},
		{"error level", "error", LevelError},
		{"uppercase", "ERROR", LevelError},
		{"mixed case", "WaRn", LevelWarn},
		{"invalid level", "bogus", defaultLevel},
		{"empty string", "", defaultLevel},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, LevelFromString(tc.input))
		})
	}
}

func TestNullLogger(t *testing.T) {
	logger := NewNullLogger()

	// These calls should not panic
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")

	withLogger := logger.With("context", "value")
	require.NotNil(t, withLogger)
	require.IsType(t, &NullLogger{}, withLogger)
}

func TestStructuredLogger(t *testing.T) {
	logger := New(LevelDebug)
	require.NotNil(t, logger)

	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")

	withLogger := logger.With("run_id", "abc")
	require.NotNil(t, withLogger)
	require.IsType(t, &StructuredLogger{}, withLogger)
}

func TestContextFunctions(t *testing.T) {
	logger := NewNullLogger()

	ctx := WithLogger(context.Background(), logger)
	require.NotNil(t, ctx)
	require.Equal(t, logger, Ctx(ctx))

	// A context without a logger yields a structured logger at the default level
	fallback := Ctx(context.Background())
	require.NotNil(t, fallback)
	require.IsType(t, &StructuredLogger{}, fallback)
}
