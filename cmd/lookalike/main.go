// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package main is the entry point of the lookalike scoring engine.
//
// The engine builds lookalike audiences: given a seed audience stored in the
// relational database it trains a similarity model over the seeds' universe
// features, scans the DuckDB candidate universe partition by partition and
// writes the best-scoring candidates back as the lookalike's membership.
//
// # Modes
//
// Without flags the process runs as a service under a suture supervisor
// tree: the HTTP server (health, metrics, status API), periodic model store
// garbage collection and, when NATS is enabled, the run trigger consumer.
//
//	lookalike                       # serve
//	lookalike -run 42               # run lookalike 42 once, resuming checkpoints
//	lookalike -run 42 -restart      # run lookalike 42 from scratch
//	lookalike -seed-demo 100000     # generate a demo universe and lookalike
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (DUCKDB_PATH, DATABASE_URL, NATS_URL, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. A run in progress stops at the
// next block boundary and keeps its committed checkpoints for a later resume.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/logging"
	"github.com/tomtom215/lookalike/internal/models"
)

// flags holds the command line.
type flags struct {
	runID    int64
	restart  bool
	seedDemo int
	demoSeed uint64
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("lookalike", flag.ContinueOnError)
	fs.Int64Var(&f.runID, "run", 0, "run one lookalike to a terminal status and exit")
	fs.BoolVar(&f.restart, "restart", false, "with -run, discard checkpoints and retrain the model")
	fs.IntVar(&f.seedDemo, "seed-demo", 0, "generate a synthetic universe of N persons with a demo lookalike and exit")
	fs.Uint64Var(&f.demoSeed, "demo-seed", 42, "random seed of -seed-demo")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.runID < 0 {
		return f, fmt.Errorf("-run must be a positive lookalike id, got %d", f.runID)
	}
	if f.restart && f.runID == 0 {
		return f, errors.New("-restart requires -run")
	}
	if f.seedDemo < 0 {
		return f, fmt.Errorf("-seed-demo must be positive, got %d", f.seedDemo)
	}
	if f.seedDemo > 0 && f.runID > 0 {
		return f, errors.New("-seed-demo and -run are mutually exclusive")
	}
	return f, nil
}

func (f flags) mode() models.RunMode {
	if f.restart {
		return models.RunModeRestart
	}
	return models.RunModeResume
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		logging.Fatal().Err(err).Msg("Lookalike engine exited with error")
	}
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logging.Logger())
	if err != nil {
		return err
	}
	defer app.Close()

	switch {
	case f.seedDemo > 0:
		id, err := app.seedDemo(ctx, f.seedDemo, f.demoSeed)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	case f.runID > 0:
		return app.runOnce(ctx, f.runID, f.mode())
	default:
		return app.serve(ctx)
	}
}
