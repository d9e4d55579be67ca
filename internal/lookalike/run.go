// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package lookalike

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/lookalike/internal/logging"
	"github.com/tomtom215/lookalike/internal/lookalike/calculator"
	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/lookalike/partition"
	"github.com/tomtom215/lookalike/internal/lookalike/topn"
	"github.com/tomtom215/lookalike/internal/metrics"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/modelstore"
	"github.com/tomtom215/lookalike/internal/universe"
)

// run is the state of one Engine.Run call.
type run struct {
	e        *Engine
	id       int64
	l        *models.Lookalike
	mode     models.RunMode
	strategy models.Strategy
	started  time.Time
	logger   zerolog.Logger

	calc         calculator.ValueCalculator
	model        calculator.Model
	features     *features.Config
	seeds        *seedSet
	universeSize int64
	capacity     int

	global  *topn.Heap
	tracker *tracker

	mu          sync.Mutex
	skipped     []int
	reused      int
	modelReused bool
	replanned   bool
}

//nolint:gocritic // opts is tiny
func (e *Engine) newRun(ctx context.Context, l *models.Lookalike, opts RunOptions) *run {
	strategy := l.Strategy
	if strategy == "" {
		strategy = e.cfg.DefaultStrategy
	}
	logger := e.logger.With().
		Int64("lookalike_id", l.ID).
		Str("correlation_id", logging.CorrelationIDFromContext(ctx)).
		Logger()
	return &run{
		e:        e,
		id:       l.ID,
		l:        l,
		mode:     opts.Mode,
		strategy: strategy,
		started:  time.Now(),
		logger:   logger,
	}
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	e := r.e

	capacity, err := e.cfg.capFor(r.l.TargetSize)
	if err != nil {
		return nil, &features.ConfigError{Reason: err.Error()}
	}
	r.capacity = capacity

	calc, err := calculator.New(r.strategy, e.calcOpts)
	if err != nil {
		return nil, err
	}
	r.calc = calc

	if err := e.store.SetStatus(ctx, r.id, models.StatusTraining); err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}

	r.features, err = features.Resolve(r.l.SignificantFields, e.calcOpts.Registry)
	if err != nil {
		return nil, err
	}

	r.seeds, err = r.fetchSeeds(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.prepareModel(ctx); err != nil {
		return nil, err
	}

	if err := r.scan(ctx); err != nil {
		return nil, err
	}

	return r.finalize(ctx)
}

// prepareModel reuses the stored model when resuming and it still matches
// the run, otherwise trains and stores a new one.
func (r *run) prepareModel(ctx context.Context) error {
	if len(r.seeds.profiles) == 0 {
		return &calculator.InsufficientSeedDataError{Total: r.seeds.matches}
	}

	if r.mode == models.RunModeResume {
		model, err := r.loadModel(ctx)
		switch {
		case err == nil:
			r.model = model
			r.modelReused = true
			r.logger.Info().Str("checksum", model.Metadata().Checksum).Msg("Reusing stored model")
			return nil
		case errors.Is(err, modelstore.ErrNotFound):
		default:
			r.logger.Warn().Err(err).Msg("Stored model unusable, retraining")
		}
	}

	start := time.Now()
	model, err := r.calc.Train(ctx, r.seeds.profiles, r.features)
	if err != nil {
		return err
	}
	metrics.RecordTraining(string(r.strategy), len(r.seeds.profiles), time.Since(start))

	data, err := r.calc.Serialize(model)
	if err != nil {
		return fmt.Errorf("serialize model: %w", err)
	}
	if err := r.e.models.Put(ctx, r.id, data); err != nil {
		return fmt.Errorf("store model: %w", err)
	}
	r.model = model
	r.logger.Info().
		Int("seeds", len(r.seeds.profiles)).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Model trained")
	return nil
}

func (r *run) loadModel(ctx context.Context) (calculator.Model, error) {
	data, err := r.e.models.Get(ctx, r.id)
	if err != nil {
		return nil, err
	}
	trained, err := calculator.PeekStrategy(data)
	if err != nil {
		return nil, err
	}
	if trained != r.strategy {
		return nil, fmt.Errorf("stored model was trained by the %s strategy, run uses %s", trained, r.strategy)
	}
	model, err := r.calc.Deserialize(data)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(model.Features().Names(), r.features.Names()) {
		return nil, errors.New("stored model was trained on different columns")
	}
	return model, nil
}

// scan plans partitions, restores completed ones and scans the rest on the
// worker pool.
func (r *run) scan(ctx context.Context) error {
	e := r.e

	size, err := e.universe.Count(ctx)
	if err != nil {
		return fmt.Errorf("count universe: %w", err)
	}
	r.universeSize = size
	if err := e.store.BeginScan(ctx, r.id, size); err != nil {
		return fmt.Errorf("begin scan: %w", err)
	}

	plan, err := partition.Plan(e.cfg.Buckets, e.cfg.BucketsPerPartition)
	if err != nil {
		return err
	}
	layout := models.PartitionLayout{Buckets: e.cfg.Buckets, BucketsPerPartition: e.cfg.BucketsPerPartition}
	replanned, err := e.store.InitPartitions(ctx, r.id, layout)
	if err != nil {
		return fmt.Errorf("init partitions: %w", err)
	}
	r.replanned = replanned
	if replanned {
		r.logger.Warn().
			Int("buckets", layout.Buckets).
			Int("buckets_per_partition", layout.BucketsPerPartition).
			Msg("Partition layout changed since the last run, rescanning every partition")
	}
	// Scores of completed partitions are only valid for the model that
	// produced them.
	if !r.modelReused {
		if r.mode == models.RunModeResume {
			r.logger.Warn().Msg("Model was retrained, discarding completed partitions")
		}
		if err := e.store.ResetPartitions(ctx, r.id); err != nil {
			return fmt.Errorf("reset partitions: %w", err)
		}
	}

	states, err := e.store.Partitions(ctx, r.id)
	if err != nil {
		return fmt.Errorf("load partitions: %w", err)
	}
	completed := make(map[int]bool, len(states))
	for _, s := range states {
		completed[s.Index] = s.Completed
	}

	r.global = topn.New(r.capacity)
	r.tracker = newTracker(e.store, e.notifier, r.id, size, e.cfg.Checkpoint, r.logger)

	pending := make([]partition.Partition, 0, len(plan))
	for _, p := range plan {
		if !completed[p.Index] {
			pending = append(pending, p)
			continue
		}
		if err := r.restorePartition(ctx, p.Index); err != nil {
			return err
		}
	}

	r.logger.Info().
		Int64("universe_size", size).
		Int("partitions", len(plan)).
		Int("pending", len(pending)).
		Int("reused", r.reused).
		Int("workers", e.cfg.Workers).
		Msg("Scanning universe")

	sc := newScorer(r.calc, r.model, r.seeds.exclude)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, p := range pending {
		g.Go(func() error {
			return r.scanPartition(gctx, p, sc)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.tracker.flush(ctx)
	return nil
}

// restorePartition merges the stored top-N of a completed partition.
func (r *run) restorePartition(ctx context.Context, index int) error {
	scores, err := r.e.store.PartitionScores(ctx, r.id, index)
	if err != nil {
		return fmt.Errorf("load scores of partition %d: %w", index, err)
	}
	for _, s := range scores {
		if _, excluded := r.seeds.exclude[s.CandidateID]; excluded {
			continue
		}
		r.global.Offer(s.CandidateID, s.Score)
	}
	r.reused++
	return nil
}

// scanPartition scores one partition into a local heap and merges it into
// the global heap once the partition's scores are persisted. A read failure
// skips the partition; rows already checkpointed stay counted and the
// partial heap is dropped.
func (r *run) scanPartition(ctx context.Context, p partition.Partition, sc *scorer) error {
	e := r.e
	local := topn.New(r.capacity)

	req := universe.ScanRequest{
		Partition:  p,
		Buckets:    e.cfg.Buckets,
		Columns:    r.features.Names(),
		BlockSize:  e.cfg.BlockSize,
		RowLimit:   e.cfg.RowLimit,
		SeedValues: r.seeds.values,
	}
	start := time.Now()
	scanned, err := e.universe.Scan(ctx, req, func(b *universe.Block) error {
		blockStart := time.Now()
		if _, err := sc.score(b, local); err != nil {
			return err
		}
		metrics.RecordBlock(string(r.strategy), b.Len(), time.Since(blockStart))
		return r.tracker.checkpoint(ctx, p.Index, b.Scanned())
	})

	var readErr *universe.PartitionReadError
	if errors.As(err, &readErr) {
		r.logger.Warn().Err(err).
			Int("partition", p.Index).
			Str("buckets", p.String()).
			Int64("rows_counted", scanned).
			Msg("Skipping unreadable partition")
		metrics.RecordPartitionSkipped("read_error")
		r.mu.Lock()
		r.skipped = append(r.skipped, p.Index)
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.tracker.completePartition(ctx, p.Index, local.Entries()); err != nil {
		return err
	}
	r.global.Merge(local)
	metrics.RecordPartitionCompleted()

	r.logger.Debug().
		Int("partition", p.Index).
		Int64("rows", scanned).
		Int("kept", local.Len()).
		Dur("duration", time.Since(start)).
		Msg("Partition completed")
	return nil
}
