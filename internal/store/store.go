// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package store persists lookalike state in a relational database.
//
// The same SQL runs on Postgres (through pgx) and on an embedded DuckDB
// file. Queries use $n placeholders, which both drivers accept, and stick to
// ON CONFLICT, GREATEST and LEAST for the few upserts the engine needs.
//
// Tables:
//   - lookalikes: one row per run, including the progress counter
//   - source_matched_persons: seed audience members with their value
//   - lookalike_partitions: per-partition high-water mark and completion flag
//   - candidate_scores: local top-N of each completed partition
//   - audience_persons: candidate ID to person ID mapping
//   - lookalike_members: finalized membership
//
// DuckDB allows one writer at a time per row, so write transactions are
// serialized in-process on that driver. Postgres relies on row locks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/metrics"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

// ErrNotFound is returned when a lookalike does not exist.
var ErrNotFound = errors.New("lookalike not found")

// dialect holds the few statements that differ between drivers.
type dialect struct {
	name            string
	forUpdate       string
	serializeWrites bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres:
		return dialect{name: DriverPostgres, forUpdate: " FOR UPDATE"}, nil
	case DriverDuckDB:
		return dialect{name: DriverDuckDB, serializeWrites: true}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported relational driver %q", driver)
	}
}

// Store is the relational store. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect dialect
	writeMu sync.Mutex
	logger  zerolog.Logger
	closers []func()
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg *config.RelationalConfig, logger zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	case DriverDuckDB:
		return openDuckDB(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported relational driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg *config.RelationalConfig, logger zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	s, err := New(ctx, db, DriverPostgres, logger)
	if err != nil {
		closeQuietly(db)
		pool.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() { closeQuietly(db) }, pool.Close)
	return s, nil
}

func openDuckDB(ctx context.Context, cfg *config.RelationalConfig, logger zerolog.Logger) (*Store, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("duckdb", cfg.Path+"?access_mode=read_write&autoinstall_known_extensions=false&autoload_known_extensions=false")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(int(cfg.MaxConns))

	s, err := New(ctx, db, DriverDuckDB, logger)
	if err != nil {
		closeQuietly(db)
		return nil, err
	}
	s.closers = append(s.closers, func() { closeQuietly(db) })
	return s, nil
}

// New wraps an open handle and migrates it. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, driver string, logger zerolog.Logger) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:      db,
		dialect: d,
		logger:  logger.With().Str("component", "store").Str("driver", driver).Logger(),
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases connections opened by Open. Stores built with New leave the
// handle open.
func (s *Store) Close() error {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
	return nil
}

// lockWrites serializes write transactions on drivers that need it.
func (s *Store) lockWrites() func() {
	if !s.dialect.serializeWrites {
		return func() {}
	}
	s.writeMu.Lock()
	return s.writeMu.Unlock
}

// inTx runs fn in a write transaction and records the outcome under op.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	unlock := s.lockWrites()
	defer unlock()

	start := time.Now()
	defer func() { s.observe(op, start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck // the original error is returned
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// exec runs a single write statement outside an explicit transaction.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	unlock := s.lockWrites()
	defer unlock()

	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, args...)
	s.observe(op, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	metrics.RecordDBQuery(op, time.Since(start), err, IsTransient(err))
	if err != nil {
		s.logger.Debug().Err(err).Str("operation", op).Msg("Query failed")
	}
}

// requireRow maps zero affected rows to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// closeQuietly closes a resource and explicitly ignores any error.
func closeQuietly(c interface{ Close() error }) {
	if c != nil {
		_ = c.Close() //nolint:errcheck // best-effort cleanup
	}
}
