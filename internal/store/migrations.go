// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one versioned schema change. Migrations are append-only.
type Migration struct {
	Version     int
	Name        string
	Description string
	Statements  []string
	AppliedAt   time.Time
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// migrations returns every schema change in version order. The SQL is
// shared by Postgres and DuckDB.
func migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "initial_schema",
			Description: "Lookalikes, seed matches, partitions, scores and membership",
			Statements: []string{
				`CREATE SEQUENCE IF NOT EXISTS lookalikes_id_seq START 1`,
				`CREATE TABLE IF NOT EXISTS lookalikes (
					id BIGINT PRIMARY KEY DEFAULT nextval('lookalikes_id_seq'),
					source_id BIGINT NOT NULL,
					name TEXT NOT NULL DEFAULT '',
					target_size TEXT NOT NULL,
					significant_fields TEXT NOT NULL,
					strategy TEXT NOT NULL,
					exclude_seed BOOLEAN NOT NULL DEFAULT FALSE,
					status TEXT NOT NULL DEFAULT 'pending',
					universe_size BIGINT NOT NULL DEFAULT 0,
					processed_train_model_size BIGINT NOT NULL DEFAULT 0,
					size BIGINT NOT NULL DEFAULT 0,
					similarity_score TEXT,
					error TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
					completed_at TIMESTAMPTZ
				)`,
				`CREATE TABLE IF NOT EXISTS source_matched_persons (
					source_id BIGINT NOT NULL,
					match_key TEXT NOT NULL,
					value DOUBLE PRECISION NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX IF NOT EXISTS idx_source_matched_persons_source ON source_matched_persons (source_id)`,
				`CREATE TABLE IF NOT EXISTS lookalike_partitions (
					lookalike_id BIGINT NOT NULL,
					partition_index INTEGER NOT NULL,
					rows_processed BIGINT NOT NULL DEFAULT 0,
					completed BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (lookalike_id, partition_index)
				)`,
				`CREATE TABLE IF NOT EXISTS candidate_scores (
					lookalike_id BIGINT NOT NULL,
					partition_index INTEGER NOT NULL,
					candidate_id TEXT NOT NULL,
					score DOUBLE PRECISION NOT NULL
				)`,
				`CREATE SEQUENCE IF NOT EXISTS audience_persons_id_seq START 1`,
				`CREATE TABLE IF NOT EXISTS audience_persons (
					id BIGINT PRIMARY KEY DEFAULT nextval('audience_persons_id_seq'),
					candidate_id TEXT NOT NULL UNIQUE
				)`,
				`CREATE TABLE IF NOT EXISTS lookalike_members (
					lookalike_id BIGINT NOT NULL,
					person_id BIGINT NOT NULL,
					candidate_id TEXT NOT NULL,
					score DOUBLE PRECISION NOT NULL
				)`,
			},
		},
		{
			Version:     2,
			Name:        "partition_layouts",
			Description: "Bucket layout the partition rows of a lookalike were planned with",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS lookalike_partition_layouts (
					lookalike_id BIGINT PRIMARY KEY,
					buckets INTEGER NOT NULL,
					buckets_per_partition INTEGER NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
			},
		},
	}
}

// Migrate applies pending migrations. Each migration runs in its own
// transaction together with its schema_migrations row.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.exec(ctx, "create_migrations_table", schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	newMigrations := 0
	for _, m := range migrations() {
		if applied[m.Version] {
			continue
		}
		err := s.inTx(ctx, "migrate", func(tx *sql.Tx) error {
			for _, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, description) VALUES ($1, $2, $3)`,
				m.Version, m.Name, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration v%d (%s): %w", m.Version, m.Name, err)
		}
		newMigrations++
	}

	if newMigrations > 0 {
		s.logger.Info().Int("applied", newMigrations).Msg("Applied database migrations")
	}
	return nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer closeQuietly(rows)

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// MigrationHistory returns the applied migrations in version order.
func (s *Store) MigrationHistory(ctx context.Context) ([]Migration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, name, COALESCE(description, ''), applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}
	defer closeQuietly(rows)

	var history []Migration
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		history = append(history, m)
	}
	return history, rows.Err()
}
