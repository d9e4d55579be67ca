// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package eventprocessor

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/logging"
)

// NewWatermillLogger routes Watermill logs through zerolog.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(slog.New(logging.NewSlogHandlerWithLogger(logger)))
}
