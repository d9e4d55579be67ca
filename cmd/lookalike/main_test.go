// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/models"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantRun  int64
		wantMode models.RunMode
		wantDemo int
	}{
		{name: "serve", args: nil, wantMode: models.RunModeResume},
		{name: "run", args: []string{"-run", "42"}, wantRun: 42, wantMode: models.RunModeResume},
		{name: "restart", args: []string{"-run", "42", "-restart"}, wantRun: 42, wantMode: models.RunModeRestart},
		{name: "seed demo", args: []string{"-seed-demo", "5000"}, wantDemo: 5000, wantMode: models.RunModeResume},
		{name: "restart without run", args: []string{"-restart"}, wantErr: "-restart requires -run"},
		{name: "negative run", args: []string{"-run", "-1"}, wantErr: "positive"},
		{name: "demo and run", args: []string{"-run", "1", "-seed-demo", "10"}, wantErr: "mutually exclusive"},
		{name: "unknown flag", args: []string{"-verbose"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := parseFlags(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseFlags(%v) = %v, want error containing %q", tt.args, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags(%v): %v", tt.args, err)
			}
			if f.runID != tt.wantRun || f.mode() != tt.wantMode || f.seedDemo != tt.wantDemo {
				t.Errorf("flags = %+v (mode %s)", f, f.mode())
			}
		})
	}
}

// loadTestConfig points every store at a temp directory.
func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(config.ConfigPathEnvVar, "")
	t.Setenv("DUCKDB_PATH", filepath.Join(dir, "universe.duckdb"))
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "lookalike.duckdb"))
	t.Setenv("MODEL_STORE_IN_MEMORY", "true")
	t.Setenv("LOOKALIKE_BLOCK_SIZE", "256")
	t.Setenv("LOOKALIKE_WORKERS", "2")
	t.Setenv("LOOKALIKE_DEFAULT_STRATEGY", "rule_based")

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	return cfg
}

func TestCalculatorOptions(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.ML.Trees = 7
	cfg.RuleBased.NumericBins = 4

	opts, err := calculatorOptions(cfg)
	if err != nil {
		t.Fatalf("calculatorOptions: %v", err)
	}
	if opts.ML.Trees != 7 || opts.Rules.NumericBins != 4 {
		t.Errorf("options = %+v", opts)
	}
	if _, ok := opts.Registry.Lookup("income_range"); !ok {
		t.Error("built-in feature columns should be registered")
	}

	cfg.Features.Columns = []config.FeatureColumnConfig{{Name: "tier", Kind: "ordinal"}}
	if _, err := calculatorOptions(cfg); err == nil {
		t.Error("ordinal column without levels should fail")
	}
}

func TestSeedDemoAndRunOnce(t *testing.T) {
	cfg := loadTestConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	id, err := a.seedDemo(ctx, 2000, 7)
	if err != nil {
		t.Fatalf("seedDemo: %v", err)
	}
	if err := a.runOnce(ctx, id, models.RunModeResume); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	l, err := a.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if l.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", l.Status)
	}
	if l.ProcessedTrainModelSize != 2000 || l.UniverseSize != 2000 {
		t.Errorf("processed/universe = %d/%d, want 2000/2000", l.ProcessedTrainModelSize, l.UniverseSize)
	}
	if l.Size == 0 || l.SimilarityScore == nil {
		t.Errorf("finalized lookalike has no members: %+v", l)
	}

	if err := a.runOnce(ctx, id+1000, models.RunModeResume); err == nil {
		t.Error("running an unknown lookalike should fail")
	}
}

func TestHTTPServerRoutes(t *testing.T) {
	cfg := loadTestConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	handler := a.httpServer().Handler

	for path, want := range map[string]int{
		"/healthz/ready":               http.StatusOK,
		"/metrics":                     http.StatusOK,
		"/api/v1/lookalikes/1":         http.StatusNotFound,
		"/api/v1/lookalikes/nope/runs": http.StatusMethodNotAllowed,
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d (body %s)", path, rec.Code, want, rec.Body.String())
		}
	}

	// Without NATS the run endpoint is disabled.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/lookalikes/1/runs", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("POST runs = %d, want 503", rec.Code)
	}
}
