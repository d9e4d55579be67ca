// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package lookalike

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/tomtom215/lookalike/internal/lookalike/calculator"
	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/lookalike/topn"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/universe"
)

// fixedCalculator returns preset scores for each block it is given.
type fixedCalculator struct {
	batches [][]float64
	calls   int
}

func (c *fixedCalculator) Strategy() models.Strategy { return models.StrategyRuleBased }

func (c *fixedCalculator) Train(context.Context, []models.SeedProfile, *features.Config) (calculator.Model, error) {
	return nil, nil
}

func (c *fixedCalculator) ScoreBatch(_ calculator.Model, _ []features.Row) ([]float64, error) {
	out := slices.Clone(c.batches[c.calls])
	c.calls++
	return out, nil
}

func (c *fixedCalculator) Serialize(calculator.Model) ([]byte, error) { return nil, nil }

func (c *fixedCalculator) Deserialize([]byte) (calculator.Model, error) { return nil, nil }

func block(ids ...string) *universe.Block {
	return &universe.Block{IDs: ids, Rows: make([]features.Row, len(ids))}
}

func TestScorerDropsBelowThreshold(t *testing.T) {
	t.Parallel()

	calc := &fixedCalculator{batches: [][]float64{
		{5, 3, 1},
		{2, 3, math.NaN(), 9},
		{4},
	}}
	sc := newScorer(calc, nil, map[string]struct{}{"g": {}})
	heap := topn.New(2)

	tests := []struct {
		block   *universe.Block
		offered int
		want    []string
	}{
		{block("a", "b", "c"), 3, []string{"a", "b"}},
		// d is below the floor, e ties it, f is NaN, g is excluded
		{block("d", "e", "f", "g"), 1, []string{"a", "b"}},
		{block("h"), 1, []string{"a", "h"}},
	}
	for i, tt := range tests {
		offered, err := sc.score(tt.block, heap)
		if err != nil {
			t.Fatalf("block %d: %v", i, err)
		}
		if offered != tt.offered {
			t.Errorf("block %d: offered = %d, want %d", i, offered, tt.offered)
		}
		if got := memberKeys(heap.Sorted()); !slices.Equal(got, tt.want) {
			t.Errorf("block %d: retained = %v, want %v", i, got, tt.want)
		}
	}
}

func TestScorerRejectsMismatchedBatch(t *testing.T) {
	t.Parallel()

	sc := newScorer(&fixedCalculator{batches: [][]float64{{1}}}, nil, nil)
	if _, err := sc.score(block("a", "b"), topn.New(5)); err == nil {
		t.Fatal("expected an error for a short score batch")
	}
}

func memberKeys(entries []models.CandidateScore) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.CandidateID
	}
	return out
}
