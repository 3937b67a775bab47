package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFields(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithJob(ctx, "750xx", 2)

	fields := Fields(ctx)
	assert.Equal(t, []zap.Field{
		zap.String("request_id", "req-1"),
		zap.String("job_id", "750xx"),
		zap.Int("batch_index", 2),
	}, fields)
}

func TestFields_JobIDOptional(t *testing.T) {
	ctx := ContextWithJob(context.Background(), "", 0)
	assert.Equal(t, []zap.Field{zap.Int("batch_index", 0)}, Fields(ctx))
}

func TestFields_Empty(t *testing.T) {
	assert.Empty(t, Fields(context.Background()))
}

func TestInit_InvalidLevel(t *testing.T) {
	_, err := newLogger(Config{Level: "loud", Encoding: "json"})
	assert.Error(t, err)
}

func TestFields_Component(t *testing.T) {
	ctx := ContextWithComponent(context.Background(), "bulk")
	assert.Equal(t, []zap.Field{zap.String("component", "bulk")}, Fields(ctx))
}

func TestInit_ReplacesGlobal(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug", Encoding: "console", OutputPaths: []string{"stderr"}}))
	assert.True(t, Get().Core().Enabled(zap.DebugLevel))

	require.NoError(t, Init(Config{Level: "warn", OutputPaths: []string{"stderr"}}))
	assert.False(t, Named("test").Core().Enabled(zap.InfoLevel))
}
