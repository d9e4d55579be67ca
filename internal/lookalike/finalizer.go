// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package lookalike

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/tomtom215/lookalike/internal/models"
)

// finalize writes the merged top-N as the lookalike's membership and marks
// the run completed.
func (r *run) finalize(ctx context.Context) (*Result, error) {
	e := r.e
	if err := e.store.SetStatus(ctx, r.id, models.StatusFinalizing); err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}

	ranked := r.global.Sorted()
	ranked = slices.DeleteFunc(ranked, func(c models.CandidateScore) bool {
		_, excluded := r.seeds.exclude[c.CandidateID]
		return excluded
	})

	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.CandidateID
	}
	personIDs, err := e.store.ResolveCandidates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}

	members := make([]models.Member, 0, len(ranked))
	scores := make([]float64, 0, len(ranked))
	for _, c := range ranked {
		pid, ok := personIDs[c.CandidateID]
		if !ok {
			return nil, fmt.Errorf("candidate %q was not assigned a person id", c.CandidateID)
		}
		members = append(members, models.Member{PersonID: pid, CandidateID: c.CandidateID, Score: c.Score})
		scores = append(scores, c.Score)
	}
	stats := summarize(scores)

	if err := e.store.Finalize(ctx, r.id, members, stats); err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	if e.cfg.PruneScores {
		if n, err := e.store.PruneScores(ctx, r.id); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to prune partition scores")
		} else {
			r.logger.Debug().Int64("rows", n).Msg("Partition scores pruned")
		}
	}

	processed := r.tracker.Processed()
	if l, err := e.store.Get(ctx, r.id); err == nil {
		processed = l.ProcessedTrainModelSize
	} else {
		r.logger.Warn().Err(err).Msg("Failed to reload lookalike after finalize")
	}

	size := int64(len(members))
	ev := models.CompletedEvent{
		ProgressEvent: models.ProgressEvent{
			LookalikeID: r.id,
			Total:       r.universeSize,
			Processed:   processed,
		},
		Size:            size,
		SimilarityScore: stats,
	}
	if err := e.notifier.Completed(ctx, ev); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to publish completion event")
	}

	r.mu.Lock()
	skipped := slices.Clone(r.skipped)
	r.mu.Unlock()
	slices.Sort(skipped)

	return &Result{
		LookalikeID:       r.id,
		UniverseSize:      r.universeSize,
		Processed:         processed,
		Size:              size,
		SimilarityScore:   stats,
		Members:           members,
		ReusedPartitions:  r.reused,
		SkippedPartitions: skipped,
		ModelReused:       r.modelReused,
		Replanned:         r.replanned,
	}, nil
}

// summarize returns min, max, mean and median of scores rounded to three
// decimals, or nil when there are none. The median of an even count is the
// mean of the two middle values.
func summarize(scores []float64) *models.SimilarityScore {
	if len(scores) == 0 {
		return nil
	}
	sorted := slices.Clone(scores)
	slices.Sort(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return &models.SimilarityScore{
		Min:     round3(sorted[0]),
		Max:     round3(sorted[n-1]),
		Average: round3(sum / float64(n)),
		Median:  round3(median),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
