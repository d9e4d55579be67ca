// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package lookalike

import (
	"fmt"
	"math"

	"github.com/tomtom215/lookalike/internal/lookalike/calculator"
	"github.com/tomtom215/lookalike/internal/lookalike/topn"
	"github.com/tomtom215/lookalike/internal/universe"
)

// scorer applies a trained model to universe blocks. It holds no mutable
// state and is shared by all partition workers of a run.
type scorer struct {
	calc    calculator.ValueCalculator
	model   calculator.Model
	exclude map[string]struct{}
}

func newScorer(calc calculator.ValueCalculator, model calculator.Model, exclude map[string]struct{}) *scorer {
	return &scorer{calc: calc, model: model, exclude: exclude}
}

// score scores every row of b and offers the survivors to heap in one batch.
// Excluded candidates, non-finite scores and scores below the heap's current
// threshold are dropped. It returns the number of candidates offered.
func (s *scorer) score(b *universe.Block, heap *topn.Heap) (int, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	scores, err := s.calc.ScoreBatch(s.model, b.Rows)
	if err != nil {
		return 0, fmt.Errorf("score block at row %d of partition %d: %w", b.Offset, b.Partition, err)
	}
	if len(scores) != b.Len() {
		return 0, fmt.Errorf("scorer returned %d scores for %d rows", len(scores), b.Len())
	}

	// Ties with the threshold still go through the heap's key order.
	floor, full := heap.Threshold()
	keys := make([]string, 0, len(b.IDs))
	kept := scores[:0]
	for i, id := range b.IDs {
		if _, excluded := s.exclude[id]; excluded {
			continue
		}
		score := scores[i]
		if math.IsNaN(score) || math.IsInf(score, 0) || (full && score < floor) {
			continue
		}
		keys = append(keys, id)
		kept = append(kept, score)
	}
	heap.OfferAll(keys, kept)
	return len(keys), nil
}
