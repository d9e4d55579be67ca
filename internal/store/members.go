// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lookalike/internal/models"
)

// maxBindParams keeps multi-row statements under the Postgres limit of
// 65535 bind parameters.
const maxBindParams = 60000

// resolveChunk bounds the candidate IDs resolved per statement.
const resolveChunk = 1000

// insertRows inserts n rows into table with multi-row VALUES statements.
func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(i int) []any) error {
	if n == 0 {
		return nil
	}
	perStmt := max(1, maxBindParams/len(columns))
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	for start := 0; start < n; start += perStmt {
		end := min(start+perStmt, n)
		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]any, 0, (end-start)*len(columns))
		for i := start; i < end; i++ {
			if i > start {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for j := range columns {
				if j > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "$%d", len(args)+j+1)
			}
			sb.WriteByte(')')
			args = append(args, row(i)...)
		}
		// #nosec G202 -- table and column names are constants
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// placeholders renders "$from, $from+1, ..." for n parameters.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

// ResolveCandidates maps candidate IDs to person IDs, creating persons for
// IDs seen for the first time. Person IDs are stable across runs.
func (s *Store) ResolveCandidates(ctx context.Context, candidateIDs []string) (map[string]int64, error) {
	candidateIDs = dedupe(candidateIDs)
	out := make(map[string]int64, len(candidateIDs))
	for start := 0; start < len(candidateIDs); start += resolveChunk {
		chunk := candidateIDs[start:min(start+resolveChunk, len(candidateIDs))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		err := s.inTx(ctx, "resolve_candidates", func(tx *sql.Tx) error {
			values := make([]string, len(chunk))
			for i := range chunk {
				values[i] = fmt.Sprintf("($%d)", i+1)
			}
			// #nosec G202 -- only placeholders are concatenated
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO audience_persons (candidate_id) VALUES `+strings.Join(values, ", ")+
					` ON CONFLICT (candidate_id) DO NOTHING`, args...); err != nil {
				return err
			}

			// #nosec G202 -- only placeholders are concatenated
			rows, err := tx.QueryContext(ctx,
				`SELECT id, candidate_id FROM audience_persons WHERE candidate_id IN (`+placeholders(1, len(chunk))+`)`,
				args...)
			if err != nil {
				return err
			}
			defer closeQuietly(rows)
			for rows.Next() {
				var (
					personID    int64
					candidateID string
				)
				if err := rows.Scan(&personID, &candidateID); err != nil {
					return err
				}
				out[candidateID] = personID
			}
			return rows.Err()
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Finalize replaces the membership of a lookalike and records its size,
// score summary and completed status in one transaction.
func (s *Store) Finalize(ctx context.Context, id int64, members []models.Member, stats *models.SimilarityScore) error {
	var score any
	if stats != nil {
		b, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("failed to encode similarity score: %w", err)
		}
		score = string(b)
	}

	return s.inTx(ctx, "finalize", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lookalike_members WHERE lookalike_id = $1`, id); err != nil {
			return err
		}
		err := insertRows(ctx, tx, "lookalike_members",
			[]string{"lookalike_id", "person_id", "candidate_id", "score"},
			len(members), func(i int) []any {
				return []any{id, members[i].PersonID, members[i].CandidateID, members[i].Score}
			})
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE lookalikes
			SET size = $2,
				similarity_score = $3,
				status = $4,
				error = NULL,
				completed_at = CURRENT_TIMESTAMP,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = $1`,
			id, int64(len(members)), score, string(models.StatusCompleted))
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// Members returns the finalized membership ordered by score descending.
func (s *Store) Members(ctx context.Context, id int64) ([]models.Member, error) {
	return s.MembersPage(ctx, id, -1, 0)
}

// MembersPage returns up to limit members starting at offset, in the same
// order as Members. A negative limit returns every remaining member.
func (s *Store) MembersPage(ctx context.Context, id int64, limit, offset int) ([]models.Member, error) {
	query := `
		SELECT person_id, candidate_id, score FROM lookalike_members
		WHERE lookalike_id = $1
		ORDER BY score DESC, candidate_id`
	args := []any{id}
	if limit >= 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observe("members", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.PersonID, &m.CandidateID, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
