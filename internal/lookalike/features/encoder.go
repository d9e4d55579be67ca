// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package features

import (
	"fmt"
	"sort"
)

// DefaultMaxCategories caps the one-hot vocabulary of a categorical column.
const DefaultMaxCategories = 64

// Slot describes one dimension of an encoded vector.
type Slot struct {
	Column   int     // index into Config.Columns
	Category string  // set for one-hot slots
	Weight   float64 // significant-field weight of the source column
}

// Encoder turns rows into dense float vectors. Numeric and ordinal columns
// take one slot each; categorical columns take one slot per label in the
// vocabulary learned from the seed. Labels outside the vocabulary encode as
// all zeros.
type Encoder struct {
	Config *Config
	Slots  []Slot
	// Offsets[i] is the first slot of column i; Vocab[i] lists its labels.
	Offsets []int
	Vocab   [][]string

	index []map[string]int
}

// FitEncoder learns the categorical vocabularies from the seed rows. Each
// vocabulary keeps the maxCategories most frequent labels, ties by label.
func FitEncoder(cfg *Config, rows []Row, maxCategories int) (*Encoder, error) {
	if cfg == nil || len(cfg.Columns) == 0 {
		return nil, &ConfigError{Reason: "encoder needs at least one column"}
	}
	if maxCategories <= 0 {
		maxCategories = DefaultMaxCategories
	}

	e := &Encoder{
		Config:  cfg,
		Offsets: make([]int, len(cfg.Columns)),
		Vocab:   make([][]string, len(cfg.Columns)),
	}

	for ci, col := range cfg.Columns {
		e.Offsets[ci] = len(e.Slots)
		if col.Rule.Kind != KindCategorical {
			e.Slots = append(e.Slots, Slot{Column: ci, Weight: col.Weight})
			continue
		}

		counts := make(map[string]int)
		for _, row := range rows {
			if ci >= len(row) {
				continue
			}
			if label, ok := CategoryValue(row[ci]); ok {
				counts[label]++
			}
		}
		labels := make([]string, 0, len(counts))
		for l := range counts {
			labels = append(labels, l)
		}
		sort.Slice(labels, func(i, j int) bool {
			if counts[labels[i]] != counts[labels[j]] {
				return counts[labels[i]] > counts[labels[j]]
			}
			return labels[i] < labels[j]
		})
		if len(labels) > maxCategories {
			labels = labels[:maxCategories]
		}
		e.Vocab[ci] = labels
		for _, l := range labels {
			e.Slots = append(e.Slots, Slot{Column: ci, Category: l, Weight: col.Weight})
		}
	}

	e.Prepare()
	return e, nil
}

// Prepare rebuilds lookup tables. Call it after decoding a stored encoder.
func (e *Encoder) Prepare() {
	e.index = make([]map[string]int, len(e.Vocab))
	for ci, labels := range e.Vocab {
		if labels == nil {
			continue
		}
		m := make(map[string]int, len(labels))
		for i, l := range labels {
			m[l] = e.Offsets[ci] + i
		}
		e.index[ci] = m
	}
}

// Width returns the encoded vector length.
func (e *Encoder) Width() int {
	return len(e.Slots)
}

// Encode writes row into dst (reallocated if too short) and returns it.
func (e *Encoder) Encode(row Row, dst []float64) ([]float64, error) {
	if len(row) != len(e.Config.Columns) {
		return nil, fmt.Errorf("row has %d values, config has %d columns", len(row), len(e.Config.Columns))
	}
	if cap(dst) < len(e.Slots) {
		dst = make([]float64, len(e.Slots))
	}
	dst = dst[:len(e.Slots)]
	for i := range dst {
		dst[i] = 0
	}

	for ci, col := range e.Config.Columns {
		off := e.Offsets[ci]
		switch col.Rule.Kind {
		case KindNumeric:
			if f, ok := NumericValue(row[ci]); ok {
				dst[off] = f
			} else {
				dst[off] = MissingSentinel
			}
		case KindOrdinal:
			if r, ok := OrdinalValue(col.Rule, row[ci]); ok {
				dst[off] = r
			} else {
				dst[off] = MissingSentinel
			}
		case KindCategorical:
			label, ok := CategoryValue(row[ci])
			if !ok || e.index[ci] == nil {
				continue
			}
			if slot, ok := e.index[ci][label]; ok {
				dst[slot] = 1
			}
		}
	}
	return dst, nil
}
