package chronograph

import (
	"context"
	"log/slog"
)

type ContextKey string

const (
	LoggerContextKey    ContextKey = "logger"
	VariablesContextKey ContextKey = "variables"
	RunIDContextKey     ContextKey = "run_id"
)

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

func WithVariables(ctx context.Context, variables *Variables) context.Context {
	return context.WithValue(ctx, VariablesContextKey, variables)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDContextKey, runID)
}

func GetLoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger)
	return logger, ok
}

func GetVariablesFromContext(ctx context.Context) (*Variables, bool) {
	variables, ok := ctx.Value(VariablesContextKey).(*Variables)
	return variables, ok
}

func GetRunIDFromContext(ctx context.Context) (string, bool) {
	runID, ok := ctx.Value(RunIDContextKey).(string)
	return runID, ok
}
