// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	// runIDKey carries the id of one pipeline invocation.
	runIDKey contextKey = "run_id"

	// stageKey carries the pipeline stage currently executing.
	stageKey contextKey = "stage"
)

// GenerateRunID creates a new unique run ID.
// Returns the first 8 characters of a UUID for readability.
func GenerateRunID() string {
	return uuid.New().String()[:8]
}

// ContextWithRunID returns a new context with the given run ID.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// ContextWithNewRunID returns a context with a newly generated run ID.
func ContextWithNewRunID(ctx context.Context) context.Context {
	return ContextWithRunID(ctx, GenerateRunID())
}

// RunIDFromContext retrieves the run ID from context.
// Returns empty string if not present.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithStage tags the context with the pipeline stage name.
func ContextWithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name or empty string.
func StageFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey).(string); ok {
		return s
	}
	return ""
}

// Ctx returns the global logger with run_id and stage from ctx attached.
//
//	logging.Ctx(ctx).Info().Int("alerts", n).Msg("detection complete")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := with()
	if id := RunIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("run_id", id)
	}
	if stage := StageFromContext(ctx); stage != "" {
		logCtx = logCtx.Str("stage", stage)
	}
	l := logCtx.Logger()
	return &l
}

// WithComponent creates a child logger with a component field.
//
//	detLogger := logging.WithComponent("detection")
func WithComponent(component string) zerolog.Logger {
	return with().Str("component", component).Logger()
}
