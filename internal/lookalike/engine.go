// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package lookalike drives a lookalike run end to end.
//
// A run resolves the significant fields into a feature config, fetches the
// seed profiles, trains (or reloads) a scoring model and then scans the
// candidate universe partition by partition on a bounded worker pool. Every
// scored block is checkpointed into the relational store so a restarted
// process can resume. The highest scoring candidates are merged into one
// bounded heap and written out as the lookalike's membership.
//
// Pipeline:
//
//	Resolve -> Fetch seeds -> Train -> [Scan -> Score -> Merge -> Checkpoint]* -> Finalize
package lookalike

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/logging"
	"github.com/tomtom215/lookalike/internal/lookalike/calculator"
	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/metrics"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/store"
	"github.com/tomtom215/lookalike/internal/universe"
)

// Store is the relational state the engine reads and checkpoints into.
// *store.Store implements it.
type Store interface {
	Get(ctx context.Context, id int64) (*models.Lookalike, error)
	SetStatus(ctx context.Context, id int64, status models.Status) error
	BeginScan(ctx context.Context, id, universeSize int64) error
	Fail(ctx context.Context, id int64, reason string) error
	SeedMatches(ctx context.Context, sourceID int64) ([]store.SourceMatch, error)
	InitPartitions(ctx context.Context, id int64, layout models.PartitionLayout) (bool, error)
	Partitions(ctx context.Context, id int64) ([]models.PartitionState, error)
	Checkpoint(ctx context.Context, id int64, partition int, scanned int64) (int64, error)
	CompletePartition(ctx context.Context, id int64, partition int, scores []models.CandidateScore) error
	PartitionScores(ctx context.Context, id int64, partition int) ([]models.CandidateScore, error)
	ResetPartitions(ctx context.Context, id int64) error
	ResolveCandidates(ctx context.Context, candidateIDs []string) (map[string]int64, error)
	Finalize(ctx context.Context, id int64, members []models.Member, stats *models.SimilarityScore) error
	PruneScores(ctx context.Context, id int64) (int64, error)
}

// Universe is the read-only candidate universe. *universe.Store implements it.
type Universe interface {
	Count(ctx context.Context) (int64, error)
	LookupSeeds(ctx context.Context, keys, columns []string, chunk int) ([]universe.SeedRow, error)
	Scan(ctx context.Context, req universe.ScanRequest, fn func(*universe.Block) error) (int64, error)
}

// ModelStore holds serialized models. *modelstore.Store implements it.
type ModelStore interface {
	Put(ctx context.Context, lookalikeID int64, data []byte) error
	Get(ctx context.Context, lookalikeID int64) ([]byte, error)
}

// Notifier receives run events. Delivery is best effort; errors are logged.
type Notifier interface {
	Progress(ctx context.Context, ev models.ProgressEvent) error
	Completed(ctx context.Context, ev models.CompletedEvent) error
	Failed(ctx context.Context, ev models.FailedEvent) error
}

type nopNotifier struct{}

func (nopNotifier) Progress(context.Context, models.ProgressEvent) error   { return nil }
func (nopNotifier) Completed(context.Context, models.CompletedEvent) error { return nil }
func (nopNotifier) Failed(context.Context, models.FailedEvent) error       { return nil }

// ErrRunInProgress is returned when the lookalike is already running in this
// process.
var ErrRunInProgress = errors.New("lookalike run already in progress")

// RunOptions controls a single run.
type RunOptions struct {
	Mode models.RunMode
}

// Result summarizes a finished run.
type Result struct {
	LookalikeID       int64
	UniverseSize      int64
	Processed         int64
	Size              int64
	SimilarityScore   *models.SimilarityScore
	Members           []models.Member
	ReusedPartitions  int
	SkippedPartitions []int
	ModelReused       bool
	Replanned         bool // partition layout changed since the previous run
	Duration          time.Duration
}

// Engine runs lookalikes. It is safe for concurrent use; a given lookalike
// runs at most once at a time per Engine.
type Engine struct {
	cfg      Config
	calcOpts calculator.Options
	store    Store
	universe Universe
	models   ModelStore
	notifier Notifier
	logger   zerolog.Logger

	running sync.Map // lookalike ID -> struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the event notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithCalculatorOptions sets strategy hyperparameters and the feature registry.
//
//nolint:gocritic // Options is built once at startup
func WithCalculatorOptions(opts calculator.Options) Option {
	return func(e *Engine) {
		e.calcOpts = opts
	}
}

// NewEngine creates an engine over its collaborators.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngine(cfg Config, st Store, uni Universe, ms ModelStore, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if st == nil || uni == nil || ms == nil {
		return nil, errors.New("store, universe and model store are required")
	}

	e := &Engine{
		cfg:      cfg,
		calcOpts: calculator.DefaultOptions(),
		store:    st,
		universe: uni,
		models:   ms,
		notifier: nopNotifier{},
		logger:   logger.With().Str("component", "lookalike").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.calcOpts.Registry == nil {
		e.calcOpts.Registry = features.DefaultRegistry()
	}
	e.calcOpts.Logger = e.logger
	return e, nil
}

// Run processes one lookalike to a terminal status. On failure the
// lookalike is marked failed, a failure event is published and the error
// is returned; committed checkpoints stay valid for a later resume.
func (e *Engine) Run(ctx context.Context, id int64, opts RunOptions) (*Result, error) {
	if _, loaded := e.running.LoadOrStore(id, struct{}{}); loaded {
		return nil, ErrRunInProgress
	}
	defer e.running.Delete(id)

	if opts.Mode == "" {
		opts.Mode = models.RunModeResume
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("unknown run mode %q", opts.Mode)
	}

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}
	ctx = logging.ContextWithLookalikeID(ctx, id)
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}

	l, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load lookalike %d: %w", id, err)
	}

	metrics.TrackActiveRun(true)
	defer metrics.TrackActiveRun(false)

	r := e.newRun(ctx, l, opts)
	r.logger.Info().Str("mode", string(opts.Mode)).Str("strategy", string(r.strategy)).Msg("Lookalike run started")

	res, err := r.execute(ctx)
	duration := time.Since(r.started)
	if err != nil {
		outcome := outcomeOf(err)
		metrics.RecordRun(string(r.strategy), outcome, duration)
		e.fail(ctx, r, err)
		return nil, err
	}

	res.Duration = duration
	metrics.RecordRun(string(r.strategy), "completed", duration)
	r.logger.Info().
		Int64("size", res.Size).
		Int64("processed", res.Processed).
		Int64("universe_size", res.UniverseSize).
		Int("skipped_partitions", len(res.SkippedPartitions)).
		Dur("duration", duration).
		Msg("Lookalike run completed")
	return res, nil
}

// fail records a failed run. It runs on a context detached from
// cancellation so a canceled run is still marked failed.
func (e *Engine) fail(ctx context.Context, r *run, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := cause.Error()

	ev := r.logger.Error()
	if universe.IsPartitionReadError(cause) || errors.Is(cause, context.Canceled) {
		ev = r.logger.Warn()
	}
	ev.Err(cause).Msg("Lookalike run failed")

	if err := e.store.Fail(ctx, r.id, reason); err != nil {
		r.logger.Error().Err(err).Msg("Failed to record run failure")
	}

	progress := models.ProgressEvent{LookalikeID: r.id, Total: r.universeSize}
	if l, err := e.store.Get(ctx, r.id); err == nil {
		progress.Total = l.UniverseSize
		progress.Processed = l.ProcessedTrainModelSize
	}
	if err := e.notifier.Failed(ctx, models.FailedEvent{ProgressEvent: progress, Error: reason}); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to publish failure event")
	}
}

func outcomeOf(err error) string {
	switch {
	case calculator.IsInsufficientSeedData(err):
		return "insufficient_seed_data"
	case features.IsConfigError(err):
		return "config_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case IsCheckpointWriteError(err):
		return "checkpoint_error"
	default:
		return "failed"
	}
}
