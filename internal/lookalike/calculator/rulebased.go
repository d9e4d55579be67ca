// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package calculator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/models"
)

// RuleParams configures the rule-based strategy.
type RuleParams struct {
	NumericBins int
	// UniformWeights scores every column with weight 1 instead of its
	// significant-field weight.
	UniformWeights bool
	// CountSeeds counts every seed once instead of weighting it by value.
	CountSeeds bool
}

// DefaultRuleParams returns the production defaults.
func DefaultRuleParams() RuleParams {
	return RuleParams{NumericBins: 10}
}

// Distribution is the seed mass of one column. Categorical and ordinal
// columns use Shares keyed by normalized label. Numeric columns split
// [Min, Max] at the seed quantiles in Edges; Bins[i] holds the mass of the
// values with exactly i edges below them.
type Distribution struct {
	Kind   features.Kind
	Shares map[string]float64
	Edges  []float64
	Bins   []float64
	Min    float64
	Max    float64
}

// share returns the fraction of seed mass that falls where v falls.
func (d *Distribution) share(v any) float64 {
	if d.Kind == features.KindNumeric {
		f, ok := features.NumericValue(v)
		if !ok || len(d.Bins) == 0 || f < d.Min || f > d.Max {
			return 0
		}
		return d.Bins[sort.SearchFloat64s(d.Edges, f)]
	}
	label, ok := features.CategoryValue(v)
	if !ok {
		return 0
	}
	return d.Shares[label]
}

// RuleModel scores a row as the weighted mean of its per-column shares.
// Scores lie in [0, 1]. Column weights are applied at scoring time, so one
// model serves both weighted and uniform scoring.
type RuleModel struct {
	Meta   ModelMetadata
	Config *features.Config
	Dists  []Distribution
}

// Strategy implements Model.
func (m *RuleModel) Strategy() models.Strategy { return models.StrategyRuleBased }

// Features implements Model.
func (m *RuleModel) Features() *features.Config { return m.Config }

// Metadata implements Model.
func (m *RuleModel) Metadata() ModelMetadata { return m.Meta }

func (m *RuleModel) score(row features.Row, uniform bool) float64 {
	total := m.Config.TotalWeight()
	if uniform {
		total = float64(len(m.Config.Columns))
	}
	if total == 0 {
		return 0
	}
	var s float64
	for ci, col := range m.Config.Columns {
		w := col.Weight
		if uniform {
			w = 1
		}
		s += w * m.Dists[ci].share(row[ci])
	}
	return s / total
}

// RuleBasedCalculator builds RuleModel from seed distributions.
type RuleBasedCalculator struct {
	params   RuleParams
	registry *features.Registry
	logger   zerolog.Logger
}

// NewRuleBasedCalculator creates the rule-based calculator.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRuleBasedCalculator(params RuleParams, reg *features.Registry, logger zerolog.Logger) *RuleBasedCalculator {
	if params.NumericBins <= 0 {
		params.NumericBins = DefaultRuleParams().NumericBins
	}
	return &RuleBasedCalculator{
		params:   params,
		registry: reg,
		logger:   logger.With().Str("component", "rule_calculator").Logger(),
	}
}

// Strategy implements ValueCalculator.
func (c *RuleBasedCalculator) Strategy() models.Strategy { return models.StrategyRuleBased }

// Train builds one distribution per column. Seeds weigh in by their
// positive value; when no seed has a positive value every seed counts once.
func (c *RuleBasedCalculator) Train(ctx context.Context, seeds []models.SeedProfile, cfg *features.Config) (Model, error) {
	start := time.Now()
	usable, err := usableSeeds(seeds, cfg)
	if err != nil {
		return nil, err
	}

	mass := make([]float64, len(usable))
	var totalMass float64
	if !c.params.CountSeeds {
		for i, s := range usable {
			mass[i] = math.Max(s.Value, 0)
			totalMass += mass[i]
		}
	}
	if totalMass == 0 {
		for i := range mass {
			mass[i] = 1
		}
		totalMass = float64(len(mass))
	}

	dists := make([]Distribution, len(cfg.Columns))
	for ci, col := range cfg.Columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if col.Rule.Kind == features.KindNumeric {
			dists[ci] = c.numericDistribution(usable, mass, totalMass, ci)
		} else {
			dists[ci] = labelDistribution(usable, mass, totalMass, ci, col.Rule)
		}
	}

	m := &RuleModel{
		Meta: ModelMetadata{
			Strategy:         models.StrategyRuleBased,
			Version:          formatVersion,
			TrainedAt:        time.Now().UTC(),
			SeedCount:        len(usable),
			TrainingDuration: time.Since(start),
		},
		Config: cfg,
		Dists:  dists,
	}
	c.logger.Debug().
		Int("seeds", len(usable)).
		Int("columns", len(cfg.Columns)).
		Dur("took", m.Meta.TrainingDuration).
		Msg("Built rule distributions")
	return m, nil
}

func (c *RuleBasedCalculator) numericDistribution(seeds []models.SeedProfile, mass []float64, total float64, ci int) Distribution {
	d := Distribution{Kind: features.KindNumeric}
	values := make([]float64, 0, len(seeds))
	for _, s := range seeds {
		if f, ok := features.NumericValue(s.Features[ci]); ok {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return d
	}
	sort.Float64s(values)
	d.Min, d.Max = values[0], values[len(values)-1]

	n := c.params.NumericBins
	for k := 1; k < n; k++ {
		e := values[k*(len(values)-1)/n]
		if e == d.Max {
			break
		}
		if len(d.Edges) == 0 || d.Edges[len(d.Edges)-1] < e {
			d.Edges = append(d.Edges, e)
		}
	}
	d.Bins = make([]float64, len(d.Edges)+1)
	for i, s := range seeds {
		if f, ok := features.NumericValue(s.Features[ci]); ok {
			d.Bins[sort.SearchFloat64s(d.Edges, f)] += mass[i] / total
		}
	}
	return d
}

func labelDistribution(seeds []models.SeedProfile, mass []float64, total float64, ci int, rule features.Rule) Distribution {
	d := Distribution{Kind: rule.Kind, Shares: make(map[string]float64)}
	for i, s := range seeds {
		label, ok := features.CategoryValue(s.Features[ci])
		if !ok {
			continue
		}
		if rule.Kind == features.KindOrdinal {
			if _, onScale := rule.Rank(label); !onScale {
				continue
			}
		}
		d.Shares[label] += mass[i] / total
	}
	return d
}

// ScoreBatch implements ValueCalculator.
func (c *RuleBasedCalculator) ScoreBatch(model Model, rows []features.Row) ([]float64, error) {
	m, ok := model.(*RuleModel)
	if !ok {
		return nil, fmt.Errorf("%w: expected rule_based model, got %T", ErrStrategyMismatch, model)
	}
	if err := checkRows(rows, m.Config); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = m.score(r, c.params.UniformWeights)
	}
	return out, nil
}

// Serialize implements ValueCalculator.
func (c *RuleBasedCalculator) Serialize(model Model) ([]byte, error) {
	m, ok := model.(*RuleModel)
	if !ok {
		return nil, fmt.Errorf("%w: expected rule_based model, got %T", ErrStrategyMismatch, model)
	}
	data, _, err := encodeModel(models.StrategyRuleBased, m)
	return data, err
}

// Deserialize implements ValueCalculator.
func (c *RuleBasedCalculator) Deserialize(data []byte) (Model, error) {
	var m RuleModel
	checksum, err := decodeModel(data, models.StrategyRuleBased, &m)
	if err != nil {
		return nil, err
	}
	if m.Config == nil || len(m.Dists) != len(m.Config.Columns) {
		return nil, fmt.Errorf("%w: distributions do not match columns", ErrCorruptModel)
	}
	if err := m.Config.Bind(c.registry); err != nil {
		return nil, err
	}
	m.Meta.Checksum = checksum
	return &m, nil
}
