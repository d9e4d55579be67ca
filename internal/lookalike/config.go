// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package lookalike

import (
	"fmt"
	"maps"
	"time"

	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/lookalike/partition"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/universe"
)

// CheckpointPolicy controls checkpoint retries and progress reporting.
type CheckpointPolicy struct {
	MaxRetries       uint64
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	ProgressInterval time.Duration
}

// Config holds the engine settings.
type Config struct {
	Buckets             int
	BucketsPerPartition int
	BlockSize           int
	Workers             int
	RowLimit            int64 // per partition scan; 0 is unlimited
	SeedChunkSize       int
	DefaultStrategy     models.Strategy
	TargetSizeCaps      map[models.TargetSize]int
	PruneScores         bool
	RunTimeout          time.Duration
	Checkpoint          CheckpointPolicy
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Buckets:             partition.DefaultBuckets,
		BucketsPerPartition: 10,
		BlockSize:           universe.DefaultBlockSize,
		Workers:             4,
		SeedChunkSize:       universe.DefaultSeedChunkSize,
		DefaultStrategy:     models.StrategyML,
		TargetSizeCaps:      maps.Clone(models.DefaultTargetSizeCaps),
		Checkpoint: CheckpointPolicy{
			MaxRetries:       5,
			InitialInterval:  100 * time.Millisecond,
			MaxInterval:      5 * time.Second,
			ProgressInterval: time.Second,
		},
	}
}

// ConfigFrom maps the loaded application configuration onto engine settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Buckets:             cfg.Scoring.Buckets,
		BucketsPerPartition: cfg.Scoring.BucketsPerPartition,
		BlockSize:           cfg.Scoring.BlockSize,
		Workers:             cfg.Scoring.Workers,
		RowLimit:            cfg.Scoring.RowLimit,
		SeedChunkSize:       cfg.Scoring.SeedChunkSize,
		DefaultStrategy:     models.Strategy(cfg.Scoring.DefaultStrategy),
		TargetSizeCaps:      cfg.TargetSizeCaps(),
		PruneScores:         cfg.Scoring.PruneScores,
		RunTimeout:          cfg.Scoring.RunTimeout,
		Checkpoint: CheckpointPolicy{
			MaxRetries:       cfg.Checkpoint.MaxRetries,
			InitialInterval:  cfg.Checkpoint.InitialInterval,
			MaxInterval:      cfg.Checkpoint.MaxInterval,
			ProgressInterval: cfg.Checkpoint.ProgressInterval,
		},
	}
}

// withDefaults fills zero values from DefaultConfig.
//
//nolint:gocritic // Config is copied on purpose
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Buckets == 0 {
		c.Buckets = d.Buckets
	}
	if c.BucketsPerPartition == 0 {
		c.BucketsPerPartition = min(d.BucketsPerPartition, c.Buckets)
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.SeedChunkSize == 0 {
		c.SeedChunkSize = d.SeedChunkSize
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = d.DefaultStrategy
	}
	if c.TargetSizeCaps == nil {
		c.TargetSizeCaps = d.TargetSizeCaps
	}
	if c.Checkpoint.InitialInterval == 0 {
		c.Checkpoint.InitialInterval = d.Checkpoint.InitialInterval
	}
	if c.Checkpoint.MaxInterval == 0 {
		c.Checkpoint.MaxInterval = max(d.Checkpoint.MaxInterval, c.Checkpoint.InitialInterval)
	}
	return c
}

// Validate checks the settings the engine cannot run without.
//
//nolint:gocritic // Config is small and read-only here
func (c Config) Validate() error {
	if _, err := partition.Plan(c.Buckets, c.BucketsPerPartition); err != nil {
		return err
	}
	if c.BlockSize < 1 || c.Workers < 1 || c.SeedChunkSize < 1 {
		return fmt.Errorf("block size, workers and seed chunk size must be positive")
	}
	if c.RowLimit < 0 {
		return fmt.Errorf("row limit must not be negative, got %d", c.RowLimit)
	}
	if !c.DefaultStrategy.Valid() {
		return fmt.Errorf("unknown default strategy %q", c.DefaultStrategy)
	}
	return nil
}

// capFor returns the audience cap of a target size.
//
//nolint:gocritic // Config is small and read-only here
func (c Config) capFor(t models.TargetSize) (int, error) {
	if n, ok := c.TargetSizeCaps[t]; ok && n > 0 {
		return n, nil
	}
	if n, ok := models.DefaultTargetSizeCaps[t]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("unknown target size %q", t)
}
