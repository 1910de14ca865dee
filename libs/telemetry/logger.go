// Package telemetry provides structured logging for broker services.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig holds logging configuration
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// Format is the log format (json, console)
	Format string
	// OutputPaths is the list of output paths (stdout, stderr, file paths)
	OutputPaths []string
	// ErrorOutputPaths is the list of error output paths
	ErrorOutputPaths []string
	// EnableCaller adds caller information (file:line)
	EnableCaller bool
	// EnableStacktrace adds stack traces for errors
	EnableStacktrace bool
	// ServiceName for structured field
	ServiceName string
	// ServiceVersion for structured field
	ServiceVersion string
	// Environment (dev, staging, prod)
	Environment string
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig(serviceName string) *LogConfig {
	return &LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: true,
		ServiceName:      serviceName,
		ServiceVersion:   "0.1.0",
		Environment:      "development",
	}
}

// NewLogger creates a new structured logger with service context
func NewLogger(cfg *LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultLogConfig("synapse-broker")
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Environment == "development",
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
		InitialFields: map[string]interface{}{
			"service":     cfg.ServiceName,
			"version":     cfg.ServiceVersion,
			"environment": cfg.Environment,
		},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithTraceContext adds trace context fields to logger so log lines can be
// correlated with distributed traces.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return logger
	}

	spanCtx := span.SpanContext()
	return logger.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
		zap.Bool("trace_sampled", spanCtx.IsSampled()),
	)
}

// Common logging helpers for structured fields
var (
	// IntentID creates an intent_id field
	IntentID = func(id string) zap.Field { return zap.String("intent_id", id) }

	// BidID creates a bid_id field
	BidID = func(id string) zap.Field { return zap.String("bid_id", id) }

	// ProviderID creates a provider_id field
	ProviderID = func(id string) zap.Field { return zap.String("provider_id", id) }

	// Room creates a room field
	Room = func(room string) zap.Field { return zap.String("room", room) }

	// Event creates an event field
	Event = func(event string) zap.Field { return zap.String("event", event) }

	// Status creates a status field
	Status = func(status string) zap.Field { return zap.String("status", status) }

	// DurationMS creates a duration_ms field
	DurationMS = func(ms int64) zap.Field { return zap.Int64("duration_ms", ms) }

	// Count creates a count field
	Count = func(count int) zap.Field { return zap.Int("count", count) }
)
