// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package config

import (
	"fmt"

	"github.com/tomtom215/lookalike/internal/lookalike/features"
)

// FeatureRegistry returns the built-in column rules with the configured
// columns added on top. A configured column replaces a built-in one.
func (c *Config) FeatureRegistry() (*features.Registry, error) {
	reg := features.DefaultRegistry()
	for _, col := range c.Features.Columns {
		kind, err := features.ParseKind(col.Kind)
		if err != nil {
			return nil, fmt.Errorf("features.columns[%s]: %w", col.Name, err)
		}
		var rule features.Rule
		switch kind {
		case features.KindNumeric:
			rule = features.Numeric()
		case features.KindCategorical:
			rule = features.Categorical()
		case features.KindOrdinal:
			rule = features.Ordinal(col.Levels...)
		}
		if err := reg.Register(col.Name, rule); err != nil {
			return nil, fmt.Errorf("features.columns[%s]: %w", col.Name, err)
		}
	}
	return reg, nil
}
