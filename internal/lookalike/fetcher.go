// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package lookalike

import (
	"context"
	"fmt"

	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/universe"
)

// seedSet is the seed audience joined to universe features.
type seedSet struct {
	profiles []models.SeedProfile
	values   map[string]float64  // candidate ID -> seed value
	exclude  map[string]struct{} // populated only when the lookalike excludes its seed
	matches  int                 // distinct match keys in the relational store
}

// fetchSeeds reads the seed members from the relational store and looks
// their features up in the universe by match key. Unmatched keys are
// dropped. A candidate reached through several match keys is kept once,
// with the value of the first key that reached it.
func (r *run) fetchSeeds(ctx context.Context) (*seedSet, error) {
	matches, err := r.e.store.SeedMatches(ctx, r.l.SourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch seed matches: %w", err)
	}

	valueByKey := make(map[string]float64, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		if v, dup := valueByKey[m.MatchKey]; dup {
			valueByKey[m.MatchKey] = max(v, m.Value)
			continue
		}
		keys = append(keys, m.MatchKey)
		valueByKey[m.MatchKey] = m.Value
	}

	set := &seedSet{
		values:  make(map[string]float64, len(keys)),
		exclude: make(map[string]struct{}),
		matches: len(keys),
	}
	if len(keys) == 0 {
		return set, nil
	}

	rows, err := r.e.universe.LookupSeeds(ctx, keys, r.features.Names(), r.e.cfg.SeedChunkSize)
	if err != nil {
		return nil, fmt.Errorf("fetch seed profiles: %w", err)
	}

	set.profiles = make([]models.SeedProfile, 0, len(rows))
	for _, row := range rows {
		if _, seen := set.values[row.CandidateID]; seen {
			continue
		}
		value := valueByKey[row.MatchKey]
		set.values[row.CandidateID] = value
		set.profiles = append(set.profiles, models.SeedProfile{
			CandidateID: row.CandidateID,
			Features:    row.Features,
			Value:       value,
		})
		if r.l.ExcludeSeed {
			set.exclude[row.CandidateID] = struct{}{}
		}
	}

	r.logger.Info().
		Int("match_keys", len(keys)).
		Int("profiles", len(set.profiles)).
		Int("unmatched", len(keys)-countKeys(rows)).
		Msg("Seed profiles fetched")
	return set, nil
}

func countKeys(rows []universe.SeedRow) int {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.MatchKey] = struct{}{}
	}
	return len(seen)
}
