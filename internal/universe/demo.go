// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package universe

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/duckdb/duckdb-go/v2"
)

// DemoSeed is a generated seed audience member.
type DemoSeed struct {
	MatchKey string
	Value    float64
}

var (
	demoStates    = []string{"CA", "NY", "TX", "FL", "IL", "WA", "CO", "GA", "MA", "OH"}
	demoIncome    = []string{"less than $20,000", "$20,000 to $44,999", "$45,000 to $59,999", "$60,000 to $74,999", "$75,000 to $99,999", "$100,000 to $149,999", "$150,000 to $199,999", "$200,000 to $249,999", "$250,000+"}
	demoNetWorth  = []string{"less than $1", "$1 to $4,999", "$5,000 to $9,999", "$10,000 to $24,999", "$25,000 to $49,999", "$50,000 to $99,999", "$100,000 to $249,999", "$250,000 to $499,999", "$500,000+"}
	demoCredit    = []string{"f", "e", "d", "c", "b", "a", "a+"}
	demoEducation = []string{"less than high school", "completed high school", "attended vocational/technical", "attended college", "completed college", "completed graduate school"}
	demoGender    = []string{"m", "f", "u"}
)

const demoTableDDL = `CREATE OR REPLACE TABLE %s (
	%s VARCHAR,
	%s VARCHAR,
	age INTEGER,
	gender VARCHAR,
	state_abbr VARCHAR,
	income_range VARCHAR,
	net_worth VARCHAR,
	credit_rating VARCHAR,
	education VARCHAR,
	household_size INTEGER,
	home_owner VARCHAR
)`

// SeedDemo replaces the universe table with n synthetic persons and returns
// a seed audience drawn from the most affluent of them. Generation is
// deterministic for a given seed.
//
// Each person has a hidden affluence in [0, 1) that drives the ordinal
// columns, so a model trained on the returned seeds should rank affluent
// candidates first.
func (s *Store) SeedDemo(ctx context.Context, n int, seed uint64) ([]DemoSeed, error) {
	if s.cfg.ParquetGlob != "" {
		return nil, errors.New("cannot generate a demo universe over a parquet source")
	}
	if n <= 0 {
		return nil, fmt.Errorf("demo universe size must be positive, got %d", n)
	}

	// #nosec G201 -- identifiers are quoted
	ddl := fmt.Sprintf(demoTableDDL, s.source, s.idCol, s.keyCol)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create demo universe: %w", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer closeQuietly(conn)

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // synthetic data
	var seeds []DemoSeed

	err = conn.Raw(func(dc any) error {
		dconn, ok := dc.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		appender, err := duckdb.NewAppenderFromConn(dconn, "", s.cfg.Table)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}

		for i := range n {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					_ = appender.Close() //nolint:errcheck // already failing
					return err
				}
			}
			affluence := rng.Float64()
			matchKey := fmt.Sprintf("mk-%08d", i)
			err := appender.AppendRow(
				fmt.Sprintf("p-%08d", i),
				matchKey,
				int32(18+rng.IntN(62)), //nolint:gosec // bounded
				pick(rng, demoGender),
				pick(rng, demoStates),
				ladder(rng, demoIncome, affluence),
				ladder(rng, demoNetWorth, affluence),
				ladder(rng, demoCredit, affluence),
				ladder(rng, demoEducation, affluence),
				int32(1+rng.IntN(6)), //nolint:gosec // bounded
				yesNo(affluence+0.2*rng.NormFloat64() > 0.45),
			)
			if err != nil {
				_ = appender.Close() //nolint:errcheck // already failing
				return fmt.Errorf("failed to append demo row %d: %w", i, err)
			}

			if affluence > 0.97 && rng.Float64() < 0.5 {
				seeds = append(seeds, DemoSeed{
					MatchKey: matchKey,
					Value:    100*affluence + 5*rng.NormFloat64(),
				})
			}
		}
		return appender.Close()
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int("rows", n).Int("seeds", len(seeds)).Msg("Demo universe generated")
	return seeds, nil
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

// ladder picks a level near affluence along an ordered scale.
func ladder(rng *rand.Rand, levels []string, affluence float64) string {
	pos := affluence*float64(len(levels)) + 0.8*rng.NormFloat64()
	i := int(pos)
	i = max(0, min(i, len(levels)-1))
	return levels[i]
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
