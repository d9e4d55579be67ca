// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package calculator learns a scoring function from a seed audience and
// applies it to candidate rows.
//
// Two strategies implement ValueCalculator:
//
//   - MLCalculator trains gradient-boosted regression trees that predict the
//     seed value metric from the encoded feature vector.
//   - RuleBasedCalculator scores a candidate by how much of the seed's value
//     sits in the same category or numeric bin, feature by feature.
//
// Both serialize to a checksummed, gzip-compressed gob envelope tagged with
// the strategy, so a model stored by one process can be loaded read-only by
// every partition worker of a run.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/models"
)

// ValueCalculator is the capability set shared by every scoring strategy.
type ValueCalculator interface {
	Strategy() models.Strategy
	Train(ctx context.Context, seeds []models.SeedProfile, cfg *features.Config) (Model, error)
	ScoreBatch(model Model, rows []features.Row) ([]float64, error)
	Serialize(model Model) ([]byte, error)
	Deserialize(data []byte) (Model, error)
}

// Model is a trained scoring function. Implementations are immutable once
// returned by Train or Deserialize and safe for concurrent scoring.
type Model interface {
	Strategy() models.Strategy
	Features() *features.Config
	Metadata() ModelMetadata
}

// ModelMetadata describes how a model was produced.
type ModelMetadata struct {
	Strategy         models.Strategy
	Version          int
	TrainedAt        time.Time
	SeedCount        int
	TrainingDuration time.Duration
	Checksum         string // sha256 of the uncompressed payload, set on Serialize
}

// InsufficientSeedDataError is returned by Train when no seed profile is
// usable. Scanning must not start after it.
type InsufficientSeedDataError struct {
	Total  int
	Usable int
}

func (e *InsufficientSeedDataError) Error() string {
	return fmt.Sprintf("insufficient seed data: %d usable of %d profiles", e.Usable, e.Total)
}

// IsInsufficientSeedData reports whether err is or wraps an InsufficientSeedDataError.
func IsInsufficientSeedData(err error) bool {
	var e *InsufficientSeedDataError
	return errors.As(err, &e)
}

// ErrStrategyMismatch is returned when a payload was produced by another strategy.
var ErrStrategyMismatch = errors.New("model strategy mismatch")

// Options configures the calculators built by New.
type Options struct {
	ML       MLParams
	Rules    RuleParams
	Registry *features.Registry
	Logger   zerolog.Logger
}

// DefaultOptions returns production defaults with the built-in feature registry.
func DefaultOptions() Options {
	return Options{
		ML:       DefaultMLParams(),
		Rules:    DefaultRuleParams(),
		Registry: features.DefaultRegistry(),
		Logger:   zerolog.Nop(),
	}
}

// New returns the calculator for a strategy.
//
//nolint:gocritic // Options is a small value type built once at startup
func New(strategy models.Strategy, opts Options) (ValueCalculator, error) {
	if opts.Registry == nil {
		opts.Registry = features.DefaultRegistry()
	}
	switch strategy {
	case models.StrategyML:
		return NewMLCalculator(opts.ML, opts.Registry, opts.Logger), nil
	case models.StrategyRuleBased:
		return NewRuleBasedCalculator(opts.Rules, opts.Registry, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown scoring strategy %q", strategy)
	}
}

// usableSeeds keeps profiles with a finite value and a row matching cfg.
func usableSeeds(seeds []models.SeedProfile, cfg *features.Config) ([]models.SeedProfile, error) {
	if cfg == nil || len(cfg.Columns) == 0 {
		return nil, &features.ConfigError{Reason: "no feature columns"}
	}
	out := make([]models.SeedProfile, 0, len(seeds))
	for _, s := range seeds {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		if len(s.Features) != len(cfg.Columns) {
			return nil, fmt.Errorf("seed %s has %d features, config has %d columns",
				s.CandidateID, len(s.Features), len(cfg.Columns))
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, &InsufficientSeedDataError{Total: len(seeds), Usable: 0}
	}
	return out, nil
}

func checkRows(rows []features.Row, cfg *features.Config) error {
	for i, r := range rows {
		if len(r) != len(cfg.Columns) {
			return fmt.Errorf("row %d has %d values, config has %d columns", i, len(r), len(cfg.Columns))
		}
	}
	return nil
}
