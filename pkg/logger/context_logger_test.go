package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithCallID(WithUserID(WithRequestID(context.Background(), "req-1"), "alice"), "call-9")
	cl.WithContext(ctx).Info("Joined")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, "call-9", fields["call_id"])
}

func TestContextLogger_IgnoresUntypedKeys(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := context.WithValue(context.Background(), "user_id", "mallory")
	cl.Sugar(ctx).Infow("Anonymous")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

func TestContextLogger_LogRequestLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))
	ctx := context.Background()

	cl.LogRequest(ctx, "GET", "/health", 200, 1)
	cl.LogRequest(ctx, "POST", "/api/v1/calls", 409, 2)
	cl.LogRequest(ctx, "POST", "/api/v1/calls/x/recording/toggle", 502, 3)
	cl.LogError(ctx, errors.New("boom"), "Upload failed")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
	assert.NotNil(t, New("debug", "console"))
}
