// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Format)
	}
	if cfg.Caller {
		t.Error("Caller should default to false")
	}
	if !cfg.Timestamp {
		t.Error("Timestamp should default to true")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{" debug ", zerolog.DebugLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// Tests below mutate the global logger and must not run in parallel.

func TestInitAndHelpers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("k", "v").Msg("hello")
	scanner := WithComponent("scanner")
	scanner.Warn().Msg("skipped")

	out := buf.String()
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("missing message, got %s", out)
	}
	if !strings.Contains(out, `"component":"scanner"`) {
		t.Errorf("missing component, got %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("missing warn level, got %s", out)
	}
}

func TestCtxAddsFields(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	ctx = ContextWithLookalikeID(ctx, 42)
	Ctx(ctx).Info().Msg("run")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"abc12345"`) {
		t.Errorf("missing correlation_id, got %s", out)
	}
	if !strings.Contains(out, `"lookalike_id":42`) {
		t.Errorf("missing lookalike_id, got %s", out)
	}
}

func TestCtxPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewTestLogger(&buf).With().Str("component", "api").Logger()
	ctx := ContextWithLogger(context.Background(), logger)
	ctx = ContextWithLookalikeID(ctx, 9)
	Ctx(ctx).Info().Msg("request")

	out := buf.String()
	if !strings.Contains(out, `"component":"api"`) || !strings.Contains(out, `"lookalike_id":9`) {
		t.Errorf("context logger not used, got %s", out)
	}
}

func TestLookalikeIDFromContext(t *testing.T) {
	t.Parallel()

	if _, ok := LookalikeIDFromContext(context.Background()); ok {
		t.Error("expected no lookalike id on empty context")
	}
	id, ok := LookalikeIDFromContext(ContextWithLookalikeID(context.Background(), 7))
	if !ok || id != 7 {
		t.Errorf("got (%d, %v), want (7, true)", id, ok)
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	t.Parallel()

	a, b := GenerateCorrelationID(), GenerateCorrelationID()
	if len(a) != 8 {
		t.Errorf("len = %d, want 8", len(a))
	}
	if a == b {
		t.Error("expected unique correlation ids")
	}
}

func TestSlogHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(zerolog.New(&buf)))
	logger.With("service", "trigger").WithGroup("run").Warn("restarting", "attempt", 3)

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("missing level, got %s", out)
	}
	if !strings.Contains(out, `"service":"trigger"`) {
		t.Errorf("missing attr, got %s", out)
	}
	if !strings.Contains(out, `"run.attempt":3`) {
		t.Errorf("missing grouped attr, got %s", out)
	}
}
