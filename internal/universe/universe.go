// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package universe reads the candidate universe from DuckDB.
//
// The universe is either a DuckDB table or a set of Parquet files read with
// read_parquet. It is never written to by a scoring run; the demo generator
// is the only writer.
//
// Partition predicates are evaluated inside DuckDB by the lookalike_bucket
// scalar function, which calls partition.Bucket so the engine and the
// database agree on bucket membership.
package universe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/config"
)

// Store is a read handle on the candidate universe.
type Store struct {
	db     *sql.DB
	cfg    config.UniverseConfig
	source string
	idCol  string
	keyCol string
	logger zerolog.Logger
	owned  bool
}

// Open opens the DuckDB database at cfg.Path (in-memory when empty) and
// registers the bucket function.
func Open(ctx context.Context, cfg *config.UniverseConfig, logger zerolog.Logger) (*Store, error) {
	if cfg.Path != "" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create universe directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open universe database: %w", err)
	}

	s, err := New(ctx, db, cfg, logger)
	if err != nil {
		closeQuietly(db)
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing DuckDB handle. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, cfg *config.UniverseConfig, logger zerolog.Logger) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping universe database: %w", err)
	}
	if err := registerBucketFunc(ctx, db); err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		cfg:    *cfg,
		idCol:  quoteIdent(cfg.IDColumn),
		keyCol: quoteIdent(cfg.MatchKeyColumn),
		logger: logger.With().Str("component", "universe").Logger(),
	}
	s.source = sourceExpr(cfg)
	return s, nil
}

// dsn builds the connection string the same way for file and in-memory
// databases. Extension autoloading is disabled; read_parquet is built in.
func dsn(cfg *config.UniverseConfig) string {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	params := []string{
		"access_mode=read_write",
		fmt.Sprintf("threads=%d", threads),
		"autoinstall_known_extensions=false",
		"autoload_known_extensions=false",
	}
	if cfg.MaxMemory != "" {
		params = append(params, "max_memory="+cfg.MaxMemory)
	}
	return cfg.Path + "?" + strings.Join(params, "&")
}

func sourceExpr(cfg *config.UniverseConfig) string {
	if cfg.ParquetGlob != "" {
		return fmt.Sprintf("read_parquet(%s)", quoteLiteral(cfg.ParquetGlob))
	}
	return quoteIdent(cfg.Table)
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Source returns the FROM expression used for every query.
func (s *Store) Source() string {
	return s.source
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Count returns the number of rows in the universe.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	// #nosec G201 -- source is built from quoted identifiers
	q := "SELECT COUNT(*) FROM " + s.source
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, &PartitionReadError{Partition: -1, Err: err}
	}
	return n, nil
}

// Columns returns the universe column names, lower-cased.
func (s *Store) Columns(ctx context.Context) ([]string, error) {
	// #nosec G201 -- source is built from quoted identifiers
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+s.source+" LIMIT 0")
	if err != nil {
		return nil, &PartitionReadError{Partition: -1, Err: err}
	}
	defer closeQuietly(rows)

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read universe columns: %w", err)
	}
	for i := range cols {
		cols[i] = strings.ToLower(cols[i])
	}
	return cols, nil
}

// CheckColumns verifies that every name is a universe column.
func (s *Store) CheckColumns(ctx context.Context, names []string) error {
	cols, err := s.Columns(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var missing []string
	for _, n := range append([]string{s.cfg.IDColumn, s.cfg.MatchKeyColumn}, names...) {
		if !have[strings.ToLower(n)] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// ErrMissingColumns is returned by CheckColumns.
var ErrMissingColumns = errors.New("universe is missing columns")

// selectList renders quoted feature columns for a SELECT clause.
func selectList(columns []string) string {
	if len(columns) == 0 {
		return ""
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	return ", " + strings.Join(quoted, ", ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// closeQuietly closes a resource, ignoring the error. Used on read paths
// where the data has already been consumed.
func closeQuietly(c interface{ Close() error }) {
	_ = c.Close() //nolint:errcheck // read-only cleanup
}
