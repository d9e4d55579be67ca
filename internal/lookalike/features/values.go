// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package features

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// MissingSentinel is the encoded value of a missing numeric or ordinal input.
const MissingSentinel = 0.0

// NumericValue converts a raw column value into a float. ok is false for
// NULL, non-numeric strings and non-finite numbers.
func NumericValue(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case *big.Int:
		if x == nil {
			return 0, false
		}
		f, _ = new(big.Float).SetInt(x).Float64()
	case time.Time:
		f = float64(x.Unix())
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case []byte:
		return NumericValue(string(x))
	case interface{ Float64() float64 }: // duckdb.Decimal
		f = x.Float64()
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// CategoryValue converts a raw column value into a normalized label. ok is
// false for NULL and blank values.
func CategoryValue(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case []byte:
		s = string(x)
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	s = normalizeLabel(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// OrdinalValue ranks a raw column value through rule. ok is false when the
// value is missing or not on the scale.
func OrdinalValue(rule Rule, v any) (float64, bool) {
	label, ok := CategoryValue(v)
	if !ok {
		return 0, false
	}
	return rule.Rank(label)
}
