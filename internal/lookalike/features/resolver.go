// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package features turns a significant-fields weighting into the ordered
// feature columns a run reads from the universe, and encodes raw column
// values into model inputs.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ConfigError reports a significant-fields mapping that cannot be resolved.
// It is fatal: no scan starts after it.
type ConfigError struct {
	Column string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Column == "" {
		return "feature config: " + e.Reason
	}
	return fmt.Sprintf("feature config: column %q: %s", e.Column, e.Reason)
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Row is one candidate's raw column values, aligned with Config.Columns.
type Row = []any

// Column is a resolved feature column.
type Column struct {
	Name   string
	Weight float64
	Rule   Rule
}

// Config is the canonical normalization config of one run.
type Config struct {
	Columns []Column
}

// Resolve builds the normalization config for a significant-fields mapping.
// Columns with weight <= 0 are excluded. The result is ordered by weight
// descending, then by name, so the same mapping always yields the same
// column order.
func Resolve(fields map[string]float64, reg *Registry) (*Config, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}

	cols := make([]Column, 0, len(fields))
	for name, w := range fields {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, &ConfigError{Column: name, Reason: "weight is not a finite number"}
		}
		if w <= 0 {
			continue
		}
		rule, ok := reg.Lookup(name)
		if !ok {
			return nil, &ConfigError{Column: name, Reason: "no known encoding rule"}
		}
		cols = append(cols, Column{Name: normalizeColumn(name), Weight: w, Rule: rule})
	}
	if len(cols) == 0 {
		return nil, &ConfigError{Reason: "no significant fields with positive weight"}
	}

	sort.Slice(cols, func(i, j int) bool {
		if cols[i].Weight != cols[j].Weight {
			return cols[i].Weight > cols[j].Weight
		}
		return cols[i].Name < cols[j].Name
	})
	for i := 1; i < len(cols); i++ {
		if cols[i].Name == cols[i-1].Name {
			return nil, &ConfigError{Column: cols[i].Name, Reason: "listed more than once"}
		}
	}
	return &Config{Columns: cols}, nil
}

// Names returns the column names in fetch order.
func (c *Config) Names() []string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return names
}

// Bind restores the rank functions of ordinal columns after the config has
// been decoded from a stored model. Level-based rules need nothing; columns
// whose rule was a custom function take it from reg.
func (c *Config) Bind(reg *Registry) error {
	for i, col := range c.Columns {
		if col.Rule.Kind != KindOrdinal || len(col.Rule.Levels) > 0 || col.Rule.rank != nil {
			continue
		}
		if reg == nil {
			return &ConfigError{Column: col.Name, Reason: "rank function not registered"}
		}
		rule, ok := reg.Lookup(col.Name)
		if !ok || rule.Kind != KindOrdinal {
			return &ConfigError{Column: col.Name, Reason: "rank function not registered"}
		}
		c.Columns[i].Rule = rule
	}
	return nil
}

// TotalWeight returns the sum of column weights.
func (c *Config) TotalWeight() float64 {
	var sum float64
	for _, col := range c.Columns {
		sum += col.Weight
	}
	return sum
}
