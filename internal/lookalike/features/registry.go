// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package features

import (
	"fmt"
	"strings"
	"sync"
)

// Kind is the encoding family of a feature column.
type Kind int

const (
	// KindNumeric passes values through unchanged.
	KindNumeric Kind = iota + 1
	// KindCategorical is an unordered set of labels.
	KindCategorical
	// KindOrdinal is an ordered set of labels mapped through a rank function.
	KindOrdinal
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindCategorical:
		return "categorical"
	case KindOrdinal:
		return "ordinal"
	default:
		return "unknown"
	}
}

// ParseKind converts a config string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric", "number":
		return KindNumeric, nil
	case "categorical", "category":
		return KindCategorical, nil
	case "ordinal", "ordered":
		return KindOrdinal, nil
	default:
		return 0, fmt.Errorf("unknown feature kind %q", s)
	}
}

// RankFunc maps an ordinal label to a monotonic rank. ok is false for
// labels outside the scale.
type RankFunc func(label string) (rank float64, ok bool)

// Rule describes how one column is encoded.
type Rule struct {
	Kind Kind
	// Levels lists ordinal labels from lowest to highest. The default rank of
	// a label is its 1-based position, leaving 0 free as the missing sentinel.
	Levels []string

	rank RankFunc
}

// Numeric returns a passthrough rule.
func Numeric() Rule { return Rule{Kind: KindNumeric} }

// Categorical returns an unordered label rule.
func Categorical() Rule { return Rule{Kind: KindCategorical} }

// Ordinal returns a rule ranking labels by their position in levels.
func Ordinal(levels ...string) Rule {
	norm := make([]string, len(levels))
	for i, l := range levels {
		norm[i] = normalizeLabel(l)
	}
	return Rule{Kind: KindOrdinal, Levels: norm}
}

// OrdinalFunc returns an ordinal rule backed by a caller-supplied rank function.
func OrdinalFunc(fn RankFunc) Rule {
	return Rule{Kind: KindOrdinal, rank: fn}
}

// Rank maps an ordinal label through the rule.
func (r Rule) Rank(label string) (float64, bool) {
	label = normalizeLabel(label)
	if r.rank != nil {
		return r.rank(label)
	}
	for i, l := range r.Levels {
		if l == label {
			return float64(i + 1), true
		}
	}
	return 0, false
}

func (r Rule) validate() error {
	switch r.Kind {
	case KindNumeric, KindCategorical:
		return nil
	case KindOrdinal:
		if r.rank == nil && len(r.Levels) == 0 {
			return fmt.Errorf("ordinal rule needs levels or a rank function")
		}
		return nil
	default:
		return fmt.Errorf("invalid kind %d", r.Kind)
	}
}

// Registry holds the known encoding rule of every universe column.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// DefaultRegistry returns a registry preloaded with the standard consumer
// profile columns of the candidate universe.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, rule := range builtinRules() {
		r.rules[name] = rule
	}
	return r
}

// Register adds or replaces the rule for a column.
func (r *Registry) Register(name string, rule Rule) error {
	name = normalizeColumn(name)
	if name == "" {
		return fmt.Errorf("column name is empty")
	}
	if err := rule.validate(); err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[name] = rule
	return nil
}

// Lookup returns the rule for a column.
func (r *Registry) Lookup(name string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[normalizeColumn(name)]
	return rule, ok
}

// Columns returns the number of registered columns.
func (r *Registry) Columns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

func builtinRules() map[string]Rule {
	return map[string]Rule{
		"age":                 Numeric(),
		"household_size":      Numeric(),
		"number_of_children":  Numeric(),
		"length_of_residence": Numeric(),
		"home_value":          Numeric(),
		"home_year_built":     Numeric(),
		"latitude":            Numeric(),
		"longitude":           Numeric(),

		"gender":         Categorical(),
		"state_abbr":     Categorical(),
		"city":           Categorical(),
		"zip_code":       Categorical(),
		"dma":            Categorical(),
		"marital_status": Categorical(),
		"home_owner":     Categorical(),
		"dwelling_type":  Categorical(),
		"occupation":     Categorical(),
		"ethnicity":      Categorical(),
		"language":       Categorical(),
		"religion":       Categorical(),
		"has_children":   Categorical(),
		"pet_owner":      Categorical(),

		"income_range": Ordinal(
			"less than $20,000", "$20,000 to $44,999", "$45,000 to $59,999",
			"$60,000 to $74,999", "$75,000 to $99,999", "$100,000 to $149,999",
			"$150,000 to $199,999", "$200,000 to $249,999", "$250,000+",
		),
		"net_worth": Ordinal(
			"less than $1", "$1 to $4,999", "$5,000 to $9,999", "$10,000 to $24,999",
			"$25,000 to $49,999", "$50,000 to $99,999", "$100,000 to $249,999",
			"$250,000 to $499,999", "$500,000+",
		),
		"credit_rating": Ordinal("f", "e", "d", "c", "b", "a", "a+"),
		"education": Ordinal(
			"less than high school", "completed high school", "attended vocational/technical",
			"attended college", "completed college", "completed graduate school",
		),
		"age_range": Ordinal("18-24", "25-34", "35-44", "45-54", "55-64", "65+"),
	}
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
