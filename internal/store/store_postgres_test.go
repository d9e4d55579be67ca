// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

//go:build integration

package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"

	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/testinfra"
)

// TestPostgresStore runs the store contract against a real PostgreSQL.
func TestPostgresStore(t *testing.T) {
	testinfra.RequireDocker(t)
	ctx := context.Background()

	pg, err := testinfra.NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("NewPostgresContainer: %v", err)
	}
	testcontainers.CleanupContainer(t, pg)

	s, err := Open(ctx, &config.RelationalConfig{Driver: DriverPostgres, URL: pg.DSN, MaxConns: 8}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	t.Run("migrations are idempotent", func(t *testing.T) {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("second Migrate: %v", err)
		}
		history, err := s.MigrationHistory(ctx)
		if err != nil {
			t.Fatalf("MigrationHistory: %v", err)
		}
		if len(history) != len(migrations()) {
			t.Errorf("history has %d entries, want %d", len(history), len(migrations()))
		}
	})

	t.Run("checkpoint high-water mark", func(t *testing.T) {
		id := createTestLookalike(t, s)
		if err := s.BeginScan(ctx, id, 1000); err != nil {
			t.Fatalf("BeginScan: %v", err)
		}
		if _, err := s.InitPartitions(ctx, id, layoutOf(2)); err != nil {
			t.Fatalf("InitPartitions: %v", err)
		}
		for _, step := range []struct {
			partition int
			scanned   int64
			want      int64
		}{
			{0, 100, 100},
			{1, 40, 140},
			{0, 80, 140},
			{0, 120, 160},
		} {
			got, err := s.Checkpoint(ctx, id, step.partition, step.scanned)
			if err != nil {
				t.Fatalf("Checkpoint: %v", err)
			}
			if got != step.want {
				t.Errorf("Checkpoint(%d, %d) = %d, want %d", step.partition, step.scanned, got, step.want)
			}
		}
		if _, err := s.Checkpoint(ctx, id+1000, 0, 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("Checkpoint(unknown) = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent checkpoints sum exactly", func(t *testing.T) {
		id := createTestLookalike(t, s)
		const parts, blocks, blockRows = 4, 15, 10
		if _, err := s.InitPartitions(ctx, id, layoutOf(parts)); err != nil {
			t.Fatalf("InitPartitions: %v", err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, parts)
		for p := range parts {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for b := 1; b <= blocks; b++ {
					for {
						_, err := s.Checkpoint(ctx, id, p, int64(b*blockRows))
						if err == nil {
							break
						}
						if !IsTransient(err) {
							errs <- err
							return
						}
					}
				}
			}(p)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}

		l, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if want := int64(parts * blocks * blockRows); l.ProcessedTrainModelSize != want {
			t.Errorf("processed = %d, want %d", l.ProcessedTrainModelSize, want)
		}
	})

	t.Run("finalize and page members", func(t *testing.T) {
		id := createTestLookalike(t, s)
		ids, err := s.ResolveCandidates(ctx, []string{"x1", "x2", "x3"})
		if err != nil {
			t.Fatalf("ResolveCandidates: %v", err)
		}
		members := []models.Member{
			{PersonID: ids["x1"], CandidateID: "x1", Score: 0.4},
			{PersonID: ids["x2"], CandidateID: "x2", Score: 0.9},
			{PersonID: ids["x3"], CandidateID: "x3", Score: 0.6},
		}
		stats := &models.SimilarityScore{Min: 0.4, Max: 0.9, Average: 0.633, Median: 0.6}
		if err := s.Finalize(ctx, id, members, stats); err != nil {
			t.Fatalf("Finalize: %v", err)
		}

		page, err := s.MembersPage(ctx, id, 2, 0)
		if err != nil {
			t.Fatalf("MembersPage: %v", err)
		}
		if len(page) != 2 || page[0].CandidateID != "x2" || page[1].CandidateID != "x3" {
			t.Errorf("MembersPage = %v", page)
		}

		l, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if l.Status != models.StatusCompleted || l.Size != 3 || l.SimilarityScore == nil {
			t.Errorf("after Finalize: %+v", l)
		}
	})
}
