// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown relational driver",
			mutate:  func(c *Config) { c.Relational.Driver = "mysql" },
			wantErr: "relational.driver",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Relational.Driver = "postgres" },
			wantErr: "relational.url",
		},
		{
			name: "postgres with malformed url",
			mutate: func(c *Config) {
				c.Relational.Driver = "postgres"
				c.Relational.URL = "postgres://user@host:notaport/db"
			},
			wantErr: "DATABASE_URL is invalid",
		},
		{
			name: "postgres with valid url",
			mutate: func(c *Config) {
				c.Relational.Driver = "postgres"
				c.Relational.URL = "postgres://lookalike:secret@db:5432/lookalike?sslmode=disable"
			},
		},
		{
			name:    "partition wider than bucket space",
			mutate:  func(c *Config) { c.Scoring.BucketsPerPartition = 200 },
			wantErr: "must not exceed scoring.buckets",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Scoring.Workers = 0 },
			wantErr: "scoring.workers",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Scoring.DefaultStrategy = "neural" },
			wantErr: "scoring.default_strategy",
		},
		{
			name:    "unknown target size",
			mutate:  func(c *Config) { c.Scoring.TargetSizes = map[string]int{"gigantic": 10} },
			wantErr: "target_sizes",
		},
		{
			name:    "inverted target sizes",
			mutate:  func(c *Config) { c.Scoring.TargetSizes = map[string]int{"almost_identical": 900000} },
			wantErr: "almost_identical (900000) must not exceed very_similar",
		},
		{
			name:    "missing universe source",
			mutate:  func(c *Config) { c.Universe.Table = "" },
			wantErr: "universe.table",
		},
		{
			name:    "quoted identifier",
			mutate:  func(c *Config) { c.Universe.IDColumn = `id"; DROP` },
			wantErr: "universe.id_column",
		},
		{
			name: "nats enabled with bad url",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = "http://localhost:4222"
			},
			wantErr: "NATS_URL is invalid",
		},
		{
			name: "max interval below initial",
			mutate: func(c *Config) {
				c.Checkpoint.InitialInterval = time.Second
				c.Checkpoint.MaxInterval = 10 * time.Millisecond
			},
			wantErr: "checkpoint.max_interval",
		},
		{
			name:    "in-memory model store needs no path",
			mutate:  func(c *Config) { c.ModelStore.Path = ""; c.ModelStore.InMemory = true },
			wantErr: "",
		},
		{
			name:    "model store without path",
			mutate:  func(c *Config) { c.ModelStore.Path = "" },
			wantErr: "model_store.path",
		},
		{
			name: "ordinal column without levels",
			mutate: func(c *Config) {
				c.Features.Columns = []FeatureColumnConfig{{Name: "tier", Kind: "ordinal"}}
			},
			wantErr: "levels",
		},
		{
			name: "duplicate feature column",
			mutate: func(c *Config) {
				c.Features.Columns = []FeatureColumnConfig{
					{Name: "tier", Kind: "categorical"},
					{Name: "TIER", Kind: "numeric"},
				}
			},
			wantErr: "duplicate column",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestFeatureRegistryOverridesBuiltin(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Features.Columns = []FeatureColumnConfig{{Name: "age", Kind: "categorical"}}
	reg, err := cfg.FeatureRegistry()
	if err != nil {
		t.Fatalf("FeatureRegistry: %v", err)
	}
	rule, _ := reg.Lookup("age")
	if rule.Kind.String() != "categorical" {
		t.Errorf("age kind = %v, want categorical", rule.Kind)
	}
}
