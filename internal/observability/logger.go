package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type recordIDKey struct{}

const serviceName = "push-relay"

// NewLogger builds a JSON logger on stderr tagged with the service and the
// running component (api, worker, sweeper).
func NewLogger(level string, component string) (*zap.Logger, error) {
	return newLogger(level, component, "stderr")
}

func newLogger(level, component string, outputPaths ...string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.OutputPaths = outputPaths
	cfg.InitialFields = map[string]any{"service": serviceName}
	if c := strings.TrimSpace(component); c != "" {
		cfg.InitialFields["component"] = c
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// WithRecordID stores the dispatch record id on ctx for log enrichment.
func WithRecordID(ctx context.Context, recordID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, recordIDKey{}, recordID)
}

func RecordIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	recordID, ok := ctx.Value(recordIDKey{}).(string)
	if !ok || recordID == "" {
		return "", false
	}

	return recordID, true
}

func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	recordID, ok := RecordIDFromContext(ctx)
	if !ok {
		return logger
	}

	return logger.With(zap.String("recordId", recordID))
}
