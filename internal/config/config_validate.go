// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package config

import (
	"fmt"
	"strings"

	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/validation"
)

// Validate checks struct tags first, then the rules that span fields.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateUniverse(); err != nil {
		return err
	}

	if err := c.validateRelational(); err != nil {
		return err
	}

	if err := c.validateScoring(); err != nil {
		return err
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	return c.validateFeatures()
}

// validateUniverse rejects identifiers that cannot be quoted safely.
func (c *Config) validateUniverse() error {
	for name, ident := range map[string]string{
		"universe.table":            c.Universe.Table,
		"universe.id_column":        c.Universe.IDColumn,
		"universe.match_key_column": c.Universe.MatchKeyColumn,
	} {
		if strings.ContainsAny(ident, "\"\x00") {
			return fmt.Errorf("%s contains a quote or NUL character", name)
		}
	}
	if strings.Contains(c.Universe.ParquetGlob, "'") {
		return fmt.Errorf("universe.parquet_glob must not contain single quotes")
	}
	return nil
}

// validateRelational checks the Postgres URL when that driver is selected.
func (c *Config) validateRelational() error {
	if c.Relational.Driver != "postgres" {
		return nil
	}
	if err := validatePostgresURL(c.Relational.URL); err != nil {
		return fmt.Errorf("DATABASE_URL is invalid: %w", err)
	}
	return nil
}

// validateScoring validates partitioning and the target size ladder.
func (c *Config) validateScoring() error {
	if c.Scoring.BucketsPerPartition > c.Scoring.Buckets {
		return fmt.Errorf("scoring.buckets_per_partition (%d) must not exceed scoring.buckets (%d)",
			c.Scoring.BucketsPerPartition, c.Scoring.Buckets)
	}

	caps := c.TargetSizeCaps()
	for i := 1; i < len(models.TargetSizes); i++ {
		narrow, broad := models.TargetSizes[i-1], models.TargetSizes[i]
		if caps[narrow] > caps[broad] {
			return fmt.Errorf("scoring.target_sizes: %s (%d) must not exceed %s (%d)",
				narrow, caps[narrow], broad, caps[broad])
		}
	}
	return nil
}

// validateNATS validates NATS configuration (only if enabled)
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	return nil
}

// validateFeatures rejects duplicate column rules.
func (c *Config) validateFeatures() error {
	seen := make(map[string]bool, len(c.Features.Columns))
	for _, col := range c.Features.Columns {
		name := strings.ToLower(strings.TrimSpace(col.Name))
		if seen[name] {
			return fmt.Errorf("features.columns: duplicate column %q", col.Name)
		}
		seen[name] = true
	}
	return nil
}

// TargetSizeCaps merges the configured overrides into the default caps.
func (c *Config) TargetSizeCaps() map[models.TargetSize]int {
	caps := make(map[models.TargetSize]int, len(models.DefaultTargetSizeCaps))
	for t, n := range models.DefaultTargetSizeCaps {
		caps[t] = n
	}
	for name, n := range c.Scoring.TargetSizes {
		if t, err := models.ParseTargetSize(name); err == nil {
			caps[t] = n
		}
	}
	return caps
}
