// Package logger holds the process-wide zap logger and the context fields
// that tie API calls back to the bulk job or unit of work that issued them.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

type contextKey string

const (
	RequestIDKey  contextKey = "request_id"
	ComponentKey  contextKey = "component"
	JobIDKey      contextKey = "job_id"
	BatchIndexKey contextKey = "batch_index"
)

// Config selects level and encoding. Console encoding colors levels and
// attaches stack traces to errors.
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init replaces the global logger. The previous logger is flushed.
func Init(cfg Config) error {
	l, err := newLogger(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	prev := global
	global = l
	mu.Unlock()
	if prev != nil {
		_ = prev.Sync()
	}
	return nil
}

func newLogger(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "json"
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	// Per-batch debug lines must not be dropped during large loads.
	zc.Sampling = nil
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	var opts []zap.Option
	if cfg.Development {
		zc.Development = true
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	l, err := zc.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// Get returns the global logger, building an info-level JSON logger on
// first use if Init was never called.
func Get() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		var err error
		if global, err = newLogger(Config{}); err != nil {
			global = zap.NewNop()
		}
	}
	return global
}

// Named returns the global logger tagged with a component name.
func Named(component string) *zap.Logger {
	return Get().With(zap.String("component", component))
}

// WithContext returns the global logger with the fields carried by ctx.
func WithContext(ctx context.Context) *zap.Logger {
	return Get().With(Fields(ctx)...)
}

// Fields extracts the logging fields carried by ctx, in a fixed order, so
// component loggers can attach them directly.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		fields = append(fields, zap.String(string(RequestIDKey), v))
	}
	if v, ok := ctx.Value(ComponentKey).(string); ok {
		fields = append(fields, zap.String(string(ComponentKey), v))
	}
	if v, ok := ctx.Value(JobIDKey).(string); ok {
		fields = append(fields, zap.String(string(JobIDKey), v))
	}
	if v, ok := ctx.Value(BatchIndexKey).(int); ok {
		fields = append(fields, zap.Int(string(BatchIndexKey), v))
	}
	return fields
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ComponentKey, component)
}

// ContextWithJob tags ctx with a batch position and, once the remote job
// exists, its ID.
func ContextWithJob(ctx context.Context, jobID string, batchIndex int) context.Context {
	ctx = context.WithValue(ctx, BatchIndexKey, batchIndex)
	if jobID != "" {
		ctx = context.WithValue(ctx, JobIDKey, jobID)
	}
	return ctx
}

// Sync flushes buffered entries of the global logger.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}
