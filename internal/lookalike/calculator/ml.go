// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package calculator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/models"
)

// MLParams configures gradient-boosted tree training.
type MLParams struct {
	Trees          int
	LearningRate   float64
	MaxDepth       int
	MinSamplesLeaf int
	Subsample      float64 // fraction of seeds sampled per tree; 1 disables sampling
	Seed           uint64
	MaxCategories  int
}

// DefaultMLParams returns conservative defaults for seed sets of a few
// hundred to a few thousand profiles.
func DefaultMLParams() MLParams {
	return MLParams{
		Trees:          100,
		LearningRate:   0.1,
		MaxDepth:       3,
		MinSamplesLeaf: 5,
		Subsample:      1.0,
		Seed:           1,
		MaxCategories:  features.DefaultMaxCategories,
	}
}

// MLModel is a trained boosted-tree ensemble with its encoder.
type MLModel struct {
	Meta         ModelMetadata
	Encoder      *features.Encoder
	Base         float64
	LearningRate float64
	Trees        []Tree
}

// Strategy implements Model.
func (m *MLModel) Strategy() models.Strategy { return models.StrategyML }

// Features implements Model.
func (m *MLModel) Features() *features.Config { return m.Encoder.Config }

// Metadata implements Model.
func (m *MLModel) Metadata() ModelMetadata { return m.Meta }

// predict scores one encoded vector.
func (m *MLModel) predict(x []float64) float64 {
	s := m.Base
	for i := range m.Trees {
		s += m.LearningRate * m.Trees[i].Predict(x)
	}
	return s
}

// MLCalculator trains and applies MLModel.
type MLCalculator struct {
	params   MLParams
	registry *features.Registry
	logger   zerolog.Logger
}

// NewMLCalculator creates the gradient-boosting calculator.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewMLCalculator(params MLParams, reg *features.Registry, logger zerolog.Logger) *MLCalculator {
	def := DefaultMLParams()
	if params.Trees <= 0 {
		params.Trees = def.Trees
	}
	if params.LearningRate <= 0 {
		params.LearningRate = def.LearningRate
	}
	if params.MaxDepth <= 0 {
		params.MaxDepth = def.MaxDepth
	}
	if params.MinSamplesLeaf <= 0 {
		params.MinSamplesLeaf = def.MinSamplesLeaf
	}
	if params.Subsample <= 0 || params.Subsample > 1 {
		params.Subsample = def.Subsample
	}
	if params.MaxCategories <= 0 {
		params.MaxCategories = def.MaxCategories
	}
	return &MLCalculator{
		params:   params,
		registry: reg,
		logger:   logger.With().Str("component", "ml_calculator").Logger(),
	}
}

// Strategy implements ValueCalculator.
func (c *MLCalculator) Strategy() models.Strategy { return models.StrategyML }

// Train fits the ensemble to predict seed value from encoded features.
// With a single usable seed the model degenerates to a constant.
func (c *MLCalculator) Train(ctx context.Context, seeds []models.SeedProfile, cfg *features.Config) (Model, error) {
	start := time.Now()
	usable, err := usableSeeds(seeds, cfg)
	if err != nil {
		return nil, err
	}

	rows := make([]features.Row, len(usable))
	y := make([]float64, len(usable))
	for i, s := range usable {
		rows[i] = s.Features
		y[i] = s.Value
	}

	enc, err := features.FitEncoder(cfg, rows, c.params.MaxCategories)
	if err != nil {
		return nil, err
	}
	x := make([][]float64, len(rows))
	for i, r := range rows {
		if x[i], err = enc.Encode(r, nil); err != nil {
			return nil, fmt.Errorf("encode seed %s: %w", usable[i].CandidateID, err)
		}
	}

	weights := slotWeights(enc)
	minLeaf := max(1, min(c.params.MinSamplesLeaf, len(usable)/4))
	fit, err := fitBoosted(ctx, x, y, weights, boostParams{
		trees:        c.params.Trees,
		learningRate: c.params.LearningRate,
		maxDepth:     c.params.MaxDepth,
		minLeaf:      minLeaf,
		subsample:    c.params.Subsample,
		seed:         c.params.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("fit boosted trees: %w", err)
	}

	m := &MLModel{
		Meta: ModelMetadata{
			Strategy:         models.StrategyML,
			Version:          formatVersion,
			TrainedAt:        time.Now().UTC(),
			SeedCount:        len(usable),
			TrainingDuration: time.Since(start),
		},
		Encoder:      enc,
		Base:         fit.base,
		LearningRate: c.params.LearningRate,
		Trees:        fit.trees,
	}

	c.logger.Debug().
		Int("seeds", len(usable)).
		Int("dropped", len(seeds)-len(usable)).
		Int("width", enc.Width()).
		Int("trees", len(fit.trees)).
		Dur("took", m.Meta.TrainingDuration).
		Msg("Trained boosted trees")

	return m, nil
}

// ScoreBatch implements ValueCalculator.
func (c *MLCalculator) ScoreBatch(model Model, rows []features.Row) ([]float64, error) {
	m, ok := model.(*MLModel)
	if !ok {
		return nil, fmt.Errorf("%w: expected ml model, got %T", ErrStrategyMismatch, model)
	}
	out := make([]float64, len(rows))
	buf := make([]float64, m.Encoder.Width())
	for i, r := range rows {
		x, err := m.Encoder.Encode(r, buf)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = m.predict(x)
	}
	return out, nil
}

// Serialize implements ValueCalculator.
func (c *MLCalculator) Serialize(model Model) ([]byte, error) {
	m, ok := model.(*MLModel)
	if !ok {
		return nil, fmt.Errorf("%w: expected ml model, got %T", ErrStrategyMismatch, model)
	}
	data, _, err := encodeModel(models.StrategyML, m)
	return data, err
}

// Deserialize implements ValueCalculator.
func (c *MLCalculator) Deserialize(data []byte) (Model, error) {
	var m MLModel
	checksum, err := decodeModel(data, models.StrategyML, &m)
	if err != nil {
		return nil, err
	}
	if m.Encoder == nil || m.Encoder.Config == nil {
		return nil, fmt.Errorf("%w: missing encoder", ErrCorruptModel)
	}
	if err := m.Encoder.Config.Bind(c.registry); err != nil {
		return nil, err
	}
	m.Encoder.Prepare()
	m.Meta.Checksum = checksum
	return &m, nil
}

// slotWeights normalizes the per-slot column weights so the heaviest is 1.
func slotWeights(enc *features.Encoder) []float64 {
	w := make([]float64, enc.Width())
	var top float64
	for i, s := range enc.Slots {
		w[i] = s.Weight
		top = max(top, s.Weight)
	}
	if top > 0 {
		for i := range w {
			w[i] /= top
		}
	}
	return w
}
