// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package models holds the data types shared by the scoring pipeline, the
// relational store and the event bus.
package models

import (
	"fmt"
	"strings"
	"time"
)

// TargetSize is the named tier controlling how many candidates a run may select.
type TargetSize string

const (
	TargetSizeAlmostIdentical TargetSize = "almost_identical"
	TargetSizeVerySimilar     TargetSize = "very_similar"
	TargetSizeSimilar         TargetSize = "similar"
	TargetSizeBroad           TargetSize = "broad"
)

// TargetSizes lists the tiers from narrowest to broadest.
var TargetSizes = []TargetSize{
	TargetSizeAlmostIdentical,
	TargetSizeVerySimilar,
	TargetSizeSimilar,
	TargetSizeBroad,
}

// DefaultTargetSizeCaps maps each tier to its maximum audience size.
// Deployments override these through scoring.target_sizes.
var DefaultTargetSizeCaps = map[TargetSize]int{
	TargetSizeAlmostIdentical: 10_000,
	TargetSizeVerySimilar:     50_000,
	TargetSizeSimilar:         100_000,
	TargetSizeBroad:           500_000,
}

// Valid reports whether t is a known tier.
func (t TargetSize) Valid() bool {
	_, ok := DefaultTargetSizeCaps[t]
	return ok
}

// ParseTargetSize accepts the canonical names plus their spaced/hyphenated forms.
func ParseTargetSize(s string) (TargetSize, error) {
	norm := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	t := TargetSize(norm)
	if !t.Valid() {
		return "", fmt.Errorf("unknown target size %q", s)
	}
	return t, nil
}

// Strategy selects the value calculator used for a run.
type Strategy string

const (
	StrategyML        Strategy = "ml"
	StrategyRuleBased Strategy = "rule_based"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyML || s == StrategyRuleBased
}

// Status is the lifecycle state of a lookalike run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusTraining   Status = "training"
	StatusScanning   Status = "scanning"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunMode controls how a run treats state left by an earlier attempt.
type RunMode string

const (
	// RunModeResume reuses the stored model and the scores of completed partitions.
	RunModeResume RunMode = "resume"
	// RunModeRestart retrains and rescans every partition.
	RunModeRestart RunMode = "restart"
)

// Valid reports whether m is a known run mode. The empty mode means resume.
func (m RunMode) Valid() bool {
	return m == RunModeResume || m == RunModeRestart
}

// SimilarityScore summarizes the scores of the finalized audience.
type SimilarityScore struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
}

// Lookalike is one scoring run, created by the API layer and driven to a
// terminal status by the engine.
type Lookalike struct {
	ID                int64              `json:"id"`
	SourceID          int64              `json:"source_id"` // seed audience
	Name              string             `json:"name"`
	TargetSize        TargetSize         `json:"target_size"`
	SignificantFields map[string]float64 `json:"significant_fields"`
	Strategy          Strategy           `json:"strategy"`
	ExcludeSeed       bool               `json:"exclude_seed"`
	Status            Status             `json:"status"`

	// UniverseSize is the candidate row count observed when scanning began.
	UniverseSize int64 `json:"universe_size"`
	// ProcessedTrainModelSize counts universe rows scored so far. It only grows.
	ProcessedTrainModelSize int64 `json:"processed_train_model_size"`
	// Size is the final membership count, written by the finalizer.
	Size            int64            `json:"size"`
	SimilarityScore *SimilarityScore `json:"similarity_score,omitempty"`
	Error           string           `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SeedProfile is one seed audience member joined with its universe features.
type SeedProfile struct {
	CandidateID string
	Features    []any // aligned with the resolved column order
	Value       float64
}

// CandidateScore pairs a candidate with its similarity score.
type CandidateScore struct {
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"`
}

// PartitionLayout is the bucket plan a run's partition rows belong to.
// Partition indexes, high-water marks and stored scores are only
// meaningful under the layout they were written with.
type PartitionLayout struct {
	Buckets             int
	BucketsPerPartition int
}

// Count returns the number of partitions of the layout.
func (l PartitionLayout) Count() int {
	if l.Buckets < 1 || l.BucketsPerPartition < 1 {
		return 0
	}
	return (l.Buckets + l.BucketsPerPartition - 1) / l.BucketsPerPartition
}

// PartitionState is the durable progress of one partition of one run.
type PartitionState struct {
	Index         int
	RowsProcessed int64 // high-water mark of rows counted for this partition
	Completed     bool
}

// Member is a finalized audience entry in the downstream identifier space.
type Member struct {
	PersonID    int64   `json:"person_id"`
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"`
}
