// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package universe

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/lookalike/partition"
)

func testConfig() *config.UniverseConfig {
	return &config.UniverseConfig{
		Table:          "universe_persons",
		IDColumn:       "id",
		MatchKeyColumn: "match_key",
		Threads:        2,
	}
}

// newTestStore opens a private in-memory DuckDB with a demo universe of n rows.
func newTestStore(t *testing.T, n int) (*Store, []DemoSeed) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(ctx, db, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var seeds []DemoSeed
	if n > 0 {
		seeds, err = s.SeedDemo(ctx, n, 42)
		if err != nil {
			t.Fatalf("SeedDemo: %v", err)
		}
	}
	return s, seeds
}

func TestBucketFuncMatchesGo(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 0)

	for _, id := range []string{"p-00000001", "abc", "", "ünïcode"} {
		var got int
		if err := s.DB().QueryRow("SELECT lookalike_bucket(?, 100)", id).Scan(&got); err != nil {
			t.Fatalf("query bucket(%q): %v", id, err)
		}
		if want := partition.Bucket(id, 100); got != want {
			t.Errorf("lookalike_bucket(%q) = %d, want %d", id, got, want)
		}
	}

	var null sql.NullInt32
	if err := s.DB().QueryRow("SELECT lookalike_bucket(NULL, 100)").Scan(&null); err != nil {
		t.Fatalf("query NULL bucket: %v", err)
	}
	if null.Valid {
		t.Errorf("lookalike_bucket(NULL) = %d, want NULL", null.Int32)
	}
}

func TestScanPartitionsCoverUniverse(t *testing.T) {
	t.Parallel()
	const rows = 1000
	s, _ := newTestStore(t, rows)
	ctx := context.Background()

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != rows {
		t.Fatalf("Count = %d, want %d", count, rows)
	}

	plan, err := partition.Plan(100, 25)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	seen := make(map[string]int)
	var total int64
	for _, p := range plan {
		blocks := 0
		n, err := s.Scan(ctx, ScanRequest{
			Partition: p,
			Buckets:   100,
			Columns:   []string{"age", "income_range"},
			BlockSize: 64,
		}, func(b *Block) error {
			blocks++
			if b.Len() > 64 {
				t.Errorf("block of %d rows exceeds block size", b.Len())
			}
			if b.Partition != p.Index {
				t.Errorf("block partition = %d, want %d", b.Partition, p.Index)
			}
			for i, id := range b.IDs {
				if !slices.Contains(p.Buckets, partition.Bucket(id, 100)) {
					t.Errorf("id %s delivered to partition %d", id, p.Index)
				}
				if len(b.Rows[i]) != 2 {
					t.Fatalf("row width = %d, want 2", len(b.Rows[i]))
				}
				seen[id]++
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Scan(%d): %v", p.Index, err)
		}
		if blocks == 0 && n > 0 {
			t.Errorf("partition %d delivered %d rows in no blocks", p.Index, n)
		}
		total += n
	}

	if total != rows {
		t.Errorf("scanned %d rows, want %d", total, rows)
	}
	if len(seen) != rows {
		t.Errorf("distinct ids = %d, want %d", len(seen), rows)
	}
	for id, c := range seen {
		if c != 1 {
			t.Errorf("id %s delivered %d times", id, c)
		}
	}
}

func TestScanRowLimitAndOffsets(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 500)

	p := partition.Partition{Index: 0, Buckets: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}}
	var offsets []int64
	n, err := s.Scan(context.Background(), ScanRequest{
		Partition: p,
		Buckets:   10,
		BlockSize: 3,
		RowLimit:  10,
	}, func(b *Block) error {
		offsets = append(offsets, b.Offset)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 10 {
		t.Errorf("delivered %d rows, want 10 (row limit)", n)
	}
	want := []int64{0, 3, 6, 9}
	if len(offsets) != len(want) {
		t.Fatalf("offsets = %v, want %v", offsets, want)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("offsets = %v, want %v", offsets, want)
			break
		}
	}
}

func TestScanAttachesSeedValues(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 200)

	p := partition.Partition{Index: 0, Buckets: []int{0}}
	seedValues := map[string]float64{}
	var target string
	_, err := s.Scan(context.Background(), ScanRequest{Partition: p, Buckets: 1}, func(b *Block) error {
		if target == "" && b.Len() > 0 {
			target = b.IDs[0]
		}
		return nil
	})
	if err != nil || target == "" {
		t.Fatalf("first scan: id=%q err=%v", target, err)
	}
	seedValues[target] = 12.5

	found := false
	_, err = s.Scan(context.Background(), ScanRequest{Partition: p, Buckets: 1, SeedValues: seedValues}, func(b *Block) error {
		for i, id := range b.IDs {
			if id == target {
				found = b.SeedValues[i] == 12.5
			} else if b.SeedValues[i] != 0 {
				t.Errorf("non-seed %s has seed value %v", id, b.SeedValues[i])
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !found {
		t.Error("seed value not attached to seed candidate")
	}
}

func TestScanCallbackErrorIsReturnedUnchanged(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 100)

	sentinel := errors.New("checkpoint down")
	_, err := s.Scan(context.Background(), ScanRequest{
		Partition: partition.Partition{Index: 0, Buckets: []int{0}},
		Buckets:   1,
		BlockSize: 10,
	}, func(*Block) error { return sentinel })

	if !errors.Is(err, sentinel) {
		t.Fatalf("Scan error = %v, want sentinel", err)
	}
	if IsPartitionReadError(err) {
		t.Error("callback error must not be reported as a read error")
	}
}

func TestScanMissingTableIsPartitionReadError(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 0)

	_, err := s.Scan(context.Background(), ScanRequest{
		Partition: partition.Partition{Index: 3, Buckets: []int{30, 31}},
		Buckets:   100,
	}, func(*Block) error { return nil })

	var readErr *PartitionReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("Scan error = %v, want *PartitionReadError", err)
	}
	if readErr.Partition != 3 {
		t.Errorf("Partition = %d, want 3", readErr.Partition)
	}
	if _, err := s.Count(context.Background()); !IsPartitionReadError(err) {
		t.Errorf("Count error = %v, want *PartitionReadError", err)
	}
}

func TestScanCanceledContext(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Scan(ctx, ScanRequest{
		Partition: partition.Partition{Index: 0, Buckets: []int{0}},
		Buckets:   1,
	}, func(*Block) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Scan error = %v, want context.Canceled", err)
	}
}

func TestLookupSeedsChunks(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 300)

	keys := []string{"mk-00000001", "mk-00000002", "mk-00000003", "mk-00000004",
		"mk-00000005", "mk-00000006", "mk-00000007", "no-such-key"}
	got, err := s.LookupSeeds(context.Background(), keys, []string{"age", "state_abbr", "credit_rating"}, 3)
	if err != nil {
		t.Fatalf("LookupSeeds: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("got %d rows, want 7 (unknown key dropped)", len(got))
	}
	for _, r := range got {
		if len(r.Features) != 3 {
			t.Errorf("row %s width = %d, want 3", r.CandidateID, len(r.Features))
		}
		if r.CandidateID == "" || r.MatchKey == "" {
			t.Errorf("row missing ids: %+v", r)
		}
	}

	none, err := s.LookupSeeds(context.Background(), nil, []string{"age"}, 3)
	if err != nil || len(none) != 0 {
		t.Errorf("LookupSeeds(nil) = %v, %v; want empty", none, err)
	}
}

func TestCheckColumns(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 10)
	ctx := context.Background()

	if err := s.CheckColumns(ctx, []string{"age", "INCOME_RANGE"}); err != nil {
		t.Errorf("CheckColumns(existing) = %v", err)
	}
	err := s.CheckColumns(ctx, []string{"age", "shoe_size"})
	if !errors.Is(err, ErrMissingColumns) {
		t.Errorf("CheckColumns(missing) = %v, want ErrMissingColumns", err)
	}
}

func TestSeedDemoIsDeterministic(t *testing.T) {
	t.Parallel()
	_, a := newTestStore(t, 2000)
	_, b := newTestStore(t, 2000)

	if len(a) == 0 {
		t.Fatal("demo produced no seeds")
	}
	if len(a) != len(b) {
		t.Fatalf("seed counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seed %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestParquetSource(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, 250)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "universe.parquet")
	if _, err := s.DB().ExecContext(ctx, "COPY universe_persons TO '"+path+"' (FORMAT parquet)"); err != nil {
		t.Fatalf("export parquet: %v", err)
	}

	cfg := testConfig()
	cfg.Table = ""
	cfg.ParquetGlob = filepath.Join(filepath.Dir(path), "*.parquet")
	pq, err := New(ctx, s.DB(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New(parquet): %v", err)
	}

	n, err := pq.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 250 {
		t.Errorf("Count = %d, want 250", n)
	}
	if _, err := pq.SeedDemo(ctx, 10, 1); err == nil {
		t.Error("SeedDemo over parquet should fail")
	}

	cfg.ParquetGlob = filepath.Join(t.TempDir(), "missing-*.parquet")
	missing, err := New(ctx, s.DB(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New(missing): %v", err)
	}
	_, err = missing.Scan(ctx, ScanRequest{
		Partition: partition.Partition{Index: 1, Buckets: []int{0}},
		Buckets:   1,
	}, func(*Block) error { return nil })
	if !IsPartitionReadError(err) {
		t.Errorf("Scan(missing parquet) = %v, want *PartitionReadError", err)
	}
}
