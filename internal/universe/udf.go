// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package universe

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/lookalike/internal/lookalike/partition"
)

// BucketFunc is the SQL name of the bucket scalar function:
// lookalike_bucket(id VARCHAR, buckets INTEGER) -> INTEGER.
const BucketFunc = "lookalike_bucket"

// bucketFunc implements duckdb.ScalarFunc over partition.Bucket.
type bucketFunc struct {
	config duckdb.ScalarFuncConfig
}

func newBucketFunc() (*bucketFunc, error) {
	varchar, err := duckdb.NewTypeInfo(duckdb.TYPE_VARCHAR)
	if err != nil {
		return nil, err
	}
	integer, err := duckdb.NewTypeInfo(duckdb.TYPE_INTEGER)
	if err != nil {
		return nil, err
	}
	return &bucketFunc{config: duckdb.ScalarFuncConfig{
		InputTypeInfos: []duckdb.TypeInfo{varchar, integer},
		ResultTypeInfo: integer,
	}}, nil
}

func (f *bucketFunc) Config() duckdb.ScalarFuncConfig {
	return f.config
}

func (f *bucketFunc) Executor() duckdb.ScalarFuncExecutor {
	return duckdb.ScalarFuncExecutor{RowExecutor: bucketRow}
}

// bucketRow is called once per row. NULL inputs never reach it.
func bucketRow(values []driver.Value) (any, error) {
	id, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s: id must be VARCHAR, got %T", BucketFunc, values[0])
	}
	buckets, ok := values[1].(int32)
	if !ok {
		return nil, fmt.Errorf("%s: buckets must be INTEGER, got %T", BucketFunc, values[1])
	}
	return int32(partition.Bucket(id, int(buckets))), nil //nolint:gosec // bucket < buckets fits int32
}

// registerBucketFunc registers lookalike_bucket in the database catalog
// unless an earlier Store on the same database already did.
func registerBucketFunc(ctx context.Context, db *sql.DB) error {
	var existing int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM duckdb_functions() WHERE function_name = ?", BucketFunc).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to inspect function catalog: %w", err)
	}
	if existing > 0 {
		return nil
	}

	fn, err := newBucketFunc()
	if err != nil {
		return fmt.Errorf("failed to build %s type info: %w", BucketFunc, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer closeQuietly(conn)

	if err := duckdb.RegisterScalarUDF(conn, BucketFunc, fn); err != nil {
		return fmt.Errorf("failed to register %s: %w", BucketFunc, err)
	}
	return nil
}

