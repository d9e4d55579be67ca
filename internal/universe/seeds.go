// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package universe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/metrics"
)

// DefaultSeedChunkSize bounds the number of match keys bound per lookup query.
const DefaultSeedChunkSize = 2000

// SeedRow is a universe row matched to a seed audience member.
type SeedRow struct {
	CandidateID string
	MatchKey    string
	Features    features.Row
}

// LookupSeeds returns the universe rows whose match key is in keys, with the
// given feature columns. Keys are bound in chunks of at most chunk values.
// Unmatched keys are absent from the result; a key matching several rows
// yields one SeedRow per row.
func (s *Store) LookupSeeds(ctx context.Context, keys, columns []string, chunk int) ([]SeedRow, error) {
	if chunk <= 0 {
		chunk = DefaultSeedChunkSize
	}
	out := make([]SeedRow, 0, len(keys))
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))
		var err error
		out, err = s.lookupChunk(ctx, keys[start:end], columns, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) lookupChunk(ctx context.Context, keys, columns []string, out []SeedRow) ([]SeedRow, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	// #nosec G201 -- identifiers are quoted, values are bound
	query := fmt.Sprintf("SELECT CAST(%s AS VARCHAR), CAST(%s AS VARCHAR)%s FROM %s WHERE CAST(%s AS VARCHAR) IN (%s)",
		s.idCol, s.keyCol, selectList(columns), s.source, s.keyCol, placeholders)

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("universe_seed_lookup", time.Since(start), err, false)
	if err != nil {
		return out, fmt.Errorf("failed to look up seed profiles: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		r := SeedRow{Features: make(features.Row, len(columns))}
		dest := make([]any, 0, len(columns)+2)
		dest = append(dest, &r.CandidateID, &r.MatchKey)
		for j := range r.Features {
			dest = append(dest, &r.Features[j])
		}
		if err := rows.Scan(dest...); err != nil {
			return out, fmt.Errorf("failed to scan seed profile: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to iterate seed profiles: %w", err)
	}
	return out, nil
}
