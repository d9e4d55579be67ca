// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/store"
)

// demoSourceID is the seed audience written by -seed-demo.
const demoSourceID = 1

// demoFields weights the affluence columns the demo universe correlates.
var demoFields = map[string]float64{
	"income_range":  3,
	"net_worth":     2,
	"credit_rating": 1,
	"age":           1,
}

// seedDemo replaces the universe with n synthetic persons, stores their
// seed audience and creates a lookalike over it. It returns the new
// lookalike's id.
func (a *app) seedDemo(ctx context.Context, n int, seed uint64) (int64, error) {
	seeds, err := a.universe.SeedDemo(ctx, n, seed)
	if err != nil {
		return 0, fmt.Errorf("generate demo universe: %w", err)
	}

	matches := make([]store.SourceMatch, len(seeds))
	for i, s := range seeds {
		matches[i] = store.SourceMatch{MatchKey: s.MatchKey, Value: s.Value}
	}
	if err := a.store.AddSourceMatches(ctx, demoSourceID, matches); err != nil {
		return 0, fmt.Errorf("store demo seed audience: %w", err)
	}

	id, err := a.store.CreateLookalike(ctx, &models.Lookalike{
		SourceID:          demoSourceID,
		Name:              "demo",
		TargetSize:        models.TargetSizeSimilar,
		SignificantFields: demoFields,
		Strategy:          models.Strategy(a.cfg.Scoring.DefaultStrategy),
	})
	if err != nil {
		return 0, fmt.Errorf("create demo lookalike: %w", err)
	}

	a.logger.Info().
		Int("universe_size", n).
		Int("seeds", len(seeds)).
		Int64("lookalike_id", id).
		Msg("Demo universe generated")
	return id, nil
}
