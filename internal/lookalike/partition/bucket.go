// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package partition splits the candidate universe into disjoint hash buckets.
//
// Bucket is a pure function of the candidate identifier, so any process (or
// the DuckDB scalar UDF that calls it) assigns the same candidate to the same
// bucket without coordination.
package partition

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// DefaultBuckets is the bucket count used when none is configured.
const DefaultBuckets = 100

// Bucket returns xxhash64(id) mod buckets, an integer in [0, buckets).
func Bucket(id string, buckets int) int {
	if buckets <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(id) % uint64(buckets))
}

// Partition is a contiguous range of buckets scanned by one worker.
type Partition struct {
	Index   int
	Buckets []int
}

// String returns the bucket range, e.g. "[10-19]".
func (p Partition) String() string {
	if len(p.Buckets) == 0 {
		return "[]"
	}
	if len(p.Buckets) == 1 {
		return fmt.Sprintf("[%d]", p.Buckets[0])
	}
	return fmt.Sprintf("[%d-%d]", p.Buckets[0], p.Buckets[len(p.Buckets)-1])
}

// Plan groups [0, buckets) into partitions of perPartition consecutive
// buckets. The final partition takes the remainder.
func Plan(buckets, perPartition int) ([]Partition, error) {
	if buckets < 1 {
		return nil, fmt.Errorf("buckets must be >= 1, got %d", buckets)
	}
	if perPartition < 1 || perPartition > buckets {
		return nil, fmt.Errorf("buckets per partition must be in [1, %d], got %d", buckets, perPartition)
	}

	parts := make([]Partition, 0, (buckets+perPartition-1)/perPartition)
	for start := 0; start < buckets; start += perPartition {
		end := min(start+perPartition, buckets)
		bs := make([]int, 0, end-start)
		for b := start; b < end; b++ {
			bs = append(bs, b)
		}
		parts = append(parts, Partition{Index: len(parts), Buckets: bs})
	}
	return parts, nil
}
