// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	lookalikeIDKey   contextKey = "lookalike_id"
	loggerKey        contextKey = "logger"
)

// GenerateCorrelationID returns the first 8 characters of a new UUID.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a new context carrying the correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID returns a context with a freshly generated correlation ID.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation ID, or "" if absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithLookalikeID tags the context with the lookalike run being processed.
func ContextWithLookalikeID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, lookalikeIDKey, id)
}

// LookalikeIDFromContext returns the lookalike ID and whether it was set.
func LookalikeIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(lookalikeIDKey).(int64)
	return id, ok
}

// ContextWithLogger stores a logger in the context.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns a logger with correlation_id and lookalike_id added when present.
//
//	logging.Ctx(ctx).Info().Int("partition", p).Msg("Partition complete")
func Ctx(ctx context.Context) *zerolog.Logger {
	l := ctxWith(ctx).Logger()
	return &l
}

func ctxWith(ctx context.Context) zerolog.Context {
	logger, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		logger = Logger()
	}
	logCtx := logger.With()

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}
	if id, ok := LookalikeIDFromContext(ctx); ok {
		logCtx = logCtx.Int64("lookalike_id", id)
	}
	return logCtx
}
