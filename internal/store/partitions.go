// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/lookalike/internal/models"
)

// InitPartitions creates the partition rows of a run under layout. Existing
// rows keep their high-water mark and completion flag when they were planned
// with the same layout. When the layout differs, or rows exist without a
// recorded layout, every partition row is reset, stored scores are dropped
// and the lookalike counter returns to zero so the whole universe is scanned
// again. replanned reports that case.
func (s *Store) InitPartitions(ctx context.Context, id int64, layout models.PartitionLayout) (replanned bool, err error) {
	count := layout.Count()
	if count == 0 {
		return false, fmt.Errorf("invalid partition layout %+v", layout)
	}
	err = s.inTx(ctx, "init_partitions", func(tx *sql.Tx) error {
		replanned = false

		var stored models.PartitionLayout
		err := tx.QueryRowContext(ctx, `
			SELECT buckets, buckets_per_partition FROM lookalike_partition_layouts
			WHERE lookalike_id = $1`+s.dialect.forUpdate, id).
			Scan(&stored.Buckets, &stored.BucketsPerPartition)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			var existing int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM lookalike_partitions WHERE lookalike_id = $1`, id).Scan(&existing); err != nil {
				return err
			}
			if existing > 0 {
				replanned = true
				if err := resetLayout(ctx, tx, id, count); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO lookalike_partition_layouts (lookalike_id, buckets, buckets_per_partition)
				VALUES ($1, $2, $3)`, id, layout.Buckets, layout.BucketsPerPartition); err != nil {
				return err
			}
		case err != nil:
			return err
		case stored != layout:
			replanned = true
			if err := resetLayout(ctx, tx, id, count); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE lookalike_partition_layouts
				SET buckets = $2, buckets_per_partition = $3, updated_at = CURRENT_TIMESTAMP
				WHERE lookalike_id = $1`, id, layout.Buckets, layout.BucketsPerPartition); err != nil {
				return err
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO lookalike_partitions (lookalike_id, partition_index, rows_processed, completed)
			VALUES ($1, $2, 0, FALSE)
			ON CONFLICT (lookalike_id, partition_index) DO NOTHING`)
		if err != nil {
			return err
		}
		defer closeQuietly(stmt)
		for i := range count {
			if _, err := stmt.ExecContext(ctx, id, i); err != nil {
				return err
			}
		}
		return nil
	})
	return replanned, err
}

// resetLayout discards partition progress planned under another layout.
// Rows below count are zeroed in place rather than deleted so their keys
// can be reused in the same transaction.
func resetLayout(ctx context.Context, tx *sql.Tx, id int64, count int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM candidate_scores WHERE lookalike_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM lookalike_partitions WHERE lookalike_id = $1 AND partition_index >= $2`, id, count); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE lookalike_partitions SET rows_processed = 0, completed = FALSE
		WHERE lookalike_id = $1`, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE lookalikes SET processed_train_model_size = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, id)
	return err
}

// Partitions returns the partition states of a run ordered by index.
func (s *Store) Partitions(ctx context.Context, id int64) ([]models.PartitionState, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT partition_index, rows_processed, completed
		FROM lookalike_partitions
		WHERE lookalike_id = $1
		ORDER BY partition_index`, id)
	s.observe("partitions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query partitions: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.PartitionState
	for rows.Next() {
		var p models.PartitionState
		if err := rows.Scan(&p.Index, &p.RowsProcessed, &p.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan partition: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Checkpoint raises the high-water mark of a partition to scanned and adds
// the positive difference to the lookalike counter, capped at the universe
// size once that is known. Both updates commit together. A scanned value at
// or below the mark changes nothing, so re-scanning a partition never counts
// rows twice. The counter after the update is returned.
func (s *Store) Checkpoint(ctx context.Context, id int64, partitionIndex int, scanned int64) (int64, error) {
	var processed int64
	err := s.inTx(ctx, "checkpoint", func(tx *sql.Tx) error {
		var prev int64
		err := tx.QueryRowContext(ctx, `
			SELECT rows_processed FROM lookalike_partitions
			WHERE lookalike_id = $1 AND partition_index = $2`+s.dialect.forUpdate,
			id, partitionIndex).Scan(&prev)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO lookalike_partitions (lookalike_id, partition_index, rows_processed, completed)
				VALUES ($1, $2, 0, FALSE)`, id, partitionIndex); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if delta := scanned - prev; delta > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE lookalike_partitions SET rows_processed = $3
				WHERE lookalike_id = $1 AND partition_index = $2`,
				id, partitionIndex, scanned); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE lookalikes
				SET processed_train_model_size = CASE
						WHEN universe_size > 0 THEN LEAST(processed_train_model_size + $2, universe_size)
						ELSE processed_train_model_size + $2
					END,
					updated_at = CURRENT_TIMESTAMP
				WHERE id = $1`, id, delta)
			if err != nil {
				return err
			}
			if err := requireRow(res); err != nil {
				return err
			}
		}

		err = tx.QueryRowContext(ctx,
			`SELECT processed_train_model_size FROM lookalikes WHERE id = $1`, id).Scan(&processed)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return processed, err
}

// CompletePartition replaces the stored scores of a partition with scores
// and marks it completed, atomically.
func (s *Store) CompletePartition(ctx context.Context, id int64, partitionIndex int, scores []models.CandidateScore) error {
	return s.inTx(ctx, "complete_partition", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM candidate_scores WHERE lookalike_id = $1 AND partition_index = $2`,
			id, partitionIndex); err != nil {
			return err
		}
		err := insertRows(ctx, tx, "candidate_scores",
			[]string{"lookalike_id", "partition_index", "candidate_id", "score"},
			len(scores), func(i int) []any {
				return []any{id, partitionIndex, scores[i].CandidateID, scores[i].Score}
			})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lookalike_partitions (lookalike_id, partition_index, rows_processed, completed)
			VALUES ($1, $2, 0, TRUE)
			ON CONFLICT (lookalike_id, partition_index) DO UPDATE SET completed = TRUE`,
			id, partitionIndex)
		return err
	})
}

// PartitionScores returns the stored scores of a completed partition.
func (s *Store) PartitionScores(ctx context.Context, id int64, partitionIndex int) ([]models.CandidateScore, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, score FROM candidate_scores
		WHERE lookalike_id = $1 AND partition_index = $2`, id, partitionIndex)
	s.observe("partition_scores", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query partition scores: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.CandidateScore
	for rows.Next() {
		var c models.CandidateScore
		if err := rows.Scan(&c.CandidateID, &c.Score); err != nil {
			return nil, fmt.Errorf("failed to scan candidate score: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResetPartitions clears completion flags and stored scores for a restart.
// High-water marks are kept so the counter does not double count.
func (s *Store) ResetPartitions(ctx context.Context, id int64) error {
	return s.inTx(ctx, "reset_partitions", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM candidate_scores WHERE lookalike_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE lookalike_partitions SET completed = FALSE WHERE lookalike_id = $1`, id)
		return err
	})
}

// PruneScores deletes the stored partition scores of a run.
func (s *Store) PruneScores(ctx context.Context, id int64) (int64, error) {
	res, err := s.exec(ctx, "prune_scores", `DELETE FROM candidate_scores WHERE lookalike_id = $1`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
