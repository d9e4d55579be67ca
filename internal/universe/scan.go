// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package universe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/lookalike/partition"
	"github.com/tomtom215/lookalike/internal/metrics"
)

// DefaultBlockSize is the number of rows handed to the scorer at a time.
const DefaultBlockSize = 250_000

// PartitionReadError reports that a partition could not be read: a missing
// table or file, a catalog error or an invalid Parquet file. The engine
// skips the partition and keeps going.
type PartitionReadError struct {
	Partition int // -1 for whole-universe queries
	Err       error
}

func (e *PartitionReadError) Error() string {
	if e.Partition < 0 {
		return fmt.Sprintf("universe read failed: %v", e.Err)
	}
	return fmt.Sprintf("partition %d read failed: %v", e.Partition, e.Err)
}

func (e *PartitionReadError) Unwrap() error {
	return e.Err
}

// IsPartitionReadError reports whether err is or wraps a PartitionReadError.
func IsPartitionReadError(err error) bool {
	var e *PartitionReadError
	return errors.As(err, &e)
}

// ScanRequest describes one partition scan.
type ScanRequest struct {
	Partition partition.Partition
	Buckets   int
	Columns   []string // feature columns in model order
	BlockSize int
	// RowLimit caps the rows delivered for this partition; 0 is unlimited.
	RowLimit int64
	// SeedValues attaches a seed value to matching candidate IDs.
	SeedValues map[string]float64
}

// Block is a bounded batch of candidate rows. A Block and its slices are
// reused for the next batch once the callback returns.
type Block struct {
	Partition  int
	IDs        []string
	Rows       []features.Row
	SeedValues []float64 // 0 for non-seed candidates
	Offset     int64     // rows delivered before this block in the partition
}

// Len returns the number of rows in the block.
func (b *Block) Len() int {
	return len(b.IDs)
}

// Scanned returns the partition rows delivered up to and including this block.
func (b *Block) Scanned() int64 {
	return b.Offset + int64(len(b.IDs))
}

func (b *Block) reset(offset int64) {
	b.IDs = b.IDs[:0]
	b.Rows = b.Rows[:0]
	b.SeedValues = b.SeedValues[:0]
	b.Offset = offset
}

// next returns a row slice of width n, reusing capacity from earlier blocks.
func (b *Block) next(n int) features.Row {
	i := len(b.Rows)
	if i < cap(b.Rows) {
		b.Rows = b.Rows[:i+1]
		if row := b.Rows[i]; len(row) == n {
			return row
		}
	} else {
		b.Rows = append(b.Rows, nil)
	}
	b.Rows[i] = make(features.Row, n)
	return b.Rows[i]
}

// scanQuery renders the streaming query of one partition.
func (s *Store) scanQuery(req *ScanRequest) string {
	ids := make([]string, len(req.Partition.Buckets))
	for i, b := range req.Partition.Buckets {
		ids[i] = strconv.Itoa(b)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT CAST(%s AS VARCHAR)%s FROM %s WHERE %s(CAST(%s AS VARCHAR), %d) IN (%s)",
		s.idCol, selectList(req.Columns), s.source,
		BucketFunc, s.idCol, req.Buckets, strings.Join(ids, ", "))
	if req.RowLimit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", req.RowLimit)
	}
	return sb.String()
}

// Scan streams the rows of one partition to fn in blocks of at most
// BlockSize rows and returns the number of rows delivered. Only one block is
// alive at a time.
//
// Database failures are returned as *PartitionReadError. Errors from fn and
// context cancellation are returned unchanged.
func (s *Store) Scan(ctx context.Context, req ScanRequest, fn func(*Block) error) (int64, error) {
	if req.BlockSize <= 0 {
		req.BlockSize = DefaultBlockSize
	}
	if req.Buckets <= 0 {
		req.Buckets = partition.DefaultBuckets
	}
	if len(req.Partition.Buckets) == 0 {
		return 0, nil
	}

	start := time.Now()
	// #nosec G201 -- identifiers are quoted, bucket numbers are integers
	rows, err := s.db.QueryContext(ctx, s.scanQuery(&req))
	metrics.RecordDBQuery("universe_scan", time.Since(start), err, false)
	if err != nil {
		return 0, s.readError(ctx, req.Partition.Index, err)
	}
	defer closeQuietly(rows)

	width := len(req.Columns)
	dest := make([]any, width+1)
	var id string
	dest[0] = &id

	block := &Block{
		Partition:  req.Partition.Index,
		IDs:        make([]string, 0, min(req.BlockSize, 4096)),
		SeedValues: make([]float64, 0, min(req.BlockSize, 4096)),
	}
	var delivered int64

	flush := func() error {
		if block.Len() == 0 {
			return nil
		}
		n := int64(block.Len())
		if err := fn(block); err != nil {
			return err
		}
		delivered += n
		block.reset(delivered)
		return nil
	}

	for rows.Next() {
		row := block.next(width)
		for j := range row {
			row[j] = nil
			dest[j+1] = &row[j]
		}
		if err := rows.Scan(dest...); err != nil {
			return delivered, s.readError(ctx, req.Partition.Index, err)
		}
		block.IDs = append(block.IDs, id)
		block.SeedValues = append(block.SeedValues, req.SeedValues[id])

		if block.Len() >= req.BlockSize {
			if err := flush(); err != nil {
				return delivered, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return delivered, s.readError(ctx, req.Partition.Index, err)
	}
	if err := flush(); err != nil {
		return delivered, err
	}
	return delivered, nil
}

func (s *Store) readError(ctx context.Context, index int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &PartitionReadError{Partition: index, Err: err}
}
