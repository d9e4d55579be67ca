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

	"github.com/goccy/go-json"

	"github.com/tomtom215/lookalike/internal/models"
)

// SourceMatch is a seed audience member: a universe match key and its value.
type SourceMatch struct {
	MatchKey string
	Value    float64
}

const lookalikeColumns = `id, source_id, name, target_size, significant_fields, strategy, exclude_seed,
	status, universe_size, processed_train_model_size, size, similarity_score, error,
	created_at, updated_at, completed_at`

// CreateLookalike inserts a pending lookalike and returns its ID.
func (s *Store) CreateLookalike(ctx context.Context, l *models.Lookalike) (int64, error) {
	fields, err := json.Marshal(l.SignificantFields)
	if err != nil {
		return 0, fmt.Errorf("failed to encode significant fields: %w", err)
	}
	status := l.Status
	if status == "" {
		status = models.StatusPending
	}

	var id int64
	err = s.inTx(ctx, "create_lookalike", func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO lookalikes (source_id, name, target_size, significant_fields, strategy, exclude_seed, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			l.SourceID, l.Name, string(l.TargetSize), string(fields), string(l.Strategy), l.ExcludeSeed, string(status),
		).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns a lookalike by ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*models.Lookalike, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `SELECT `+lookalikeColumns+` FROM lookalikes WHERE id = $1`, id)
	l, err := scanLookalike(row)
	if errors.Is(err, sql.ErrNoRows) {
		s.observe("get_lookalike", start, nil)
		return nil, ErrNotFound
	}
	s.observe("get_lookalike", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to load lookalike %d: %w", id, err)
	}
	return l, nil
}

func scanLookalike(row *sql.Row) (*models.Lookalike, error) {
	var (
		l           models.Lookalike
		targetSize  string
		fields      string
		strategy    string
		status      string
		score       sql.NullString
		errText     sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&l.ID, &l.SourceID, &l.Name, &targetSize, &fields, &strategy, &l.ExcludeSeed,
		&status, &l.UniverseSize, &l.ProcessedTrainModelSize, &l.Size, &score, &errText,
		&l.CreatedAt, &l.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	l.TargetSize = models.TargetSize(targetSize)
	l.Strategy = models.Strategy(strategy)
	l.Status = models.Status(status)
	l.Error = errText.String
	if completedAt.Valid {
		t := completedAt.Time
		l.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(fields), &l.SignificantFields); err != nil {
		return nil, fmt.Errorf("failed to decode significant fields: %w", err)
	}
	if score.Valid && score.String != "" {
		l.SimilarityScore = &models.SimilarityScore{}
		if err := json.Unmarshal([]byte(score.String), l.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to decode similarity score: %w", err)
		}
	}
	return &l, nil
}

// SetStatus moves a lookalike to status and clears any earlier failure reason.
func (s *Store) SetStatus(ctx context.Context, id int64, status models.Status) error {
	res, err := s.exec(ctx, "set_status",
		`UPDATE lookalikes SET status = $2, error = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, string(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// BeginScan records the universe size and moves the lookalike to scanning.
// An existing counter is capped at the new size.
func (s *Store) BeginScan(ctx context.Context, id, universeSize int64) error {
	res, err := s.exec(ctx, "begin_scan", `
		UPDATE lookalikes
		SET status = $2,
			universe_size = $3,
			processed_train_model_size = LEAST(processed_train_model_size, $3),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, string(models.StatusScanning), universeSize)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Fail marks a lookalike failed with a reason.
func (s *Store) Fail(ctx context.Context, id int64, reason string) error {
	res, err := s.exec(ctx, "fail_lookalike",
		`UPDATE lookalikes SET status = $2, error = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, string(models.StatusFailed), reason)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AddSourceMatches stores seed audience members for a source.
func (s *Store) AddSourceMatches(ctx context.Context, sourceID int64, matches []SourceMatch) error {
	if len(matches) == 0 {
		return nil
	}
	return s.inTx(ctx, "add_source_matches", func(tx *sql.Tx) error {
		return insertRows(ctx, tx, "source_matched_persons", []string{"source_id", "match_key", "value"},
			len(matches), func(i int) []any {
				return []any{sourceID, matches[i].MatchKey, matches[i].Value}
			})
	})
}

// SeedMatches returns the seed members of a source. A match key listed more
// than once keeps its highest value.
func (s *Store) SeedMatches(ctx context.Context, sourceID int64) ([]SourceMatch, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_key, MAX(value)
		FROM source_matched_persons
		WHERE source_id = $1
		GROUP BY match_key
		ORDER BY match_key`, sourceID)
	s.observe("seed_matches", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query seed matches: %w", err)
	}
	defer closeQuietly(rows)

	var out []SourceMatch
	for rows.Next() {
		var m SourceMatch
		if err := rows.Scan(&m.MatchKey, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan seed match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
