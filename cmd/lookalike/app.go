// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/api"
	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/logging"
	"github.com/tomtom215/lookalike/internal/lookalike"
	"github.com/tomtom215/lookalike/internal/lookalike/calculator"
	"github.com/tomtom215/lookalike/internal/metrics"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/modelstore"
	"github.com/tomtom215/lookalike/internal/store"
	"github.com/tomtom215/lookalike/internal/supervisor"
	"github.com/tomtom215/lookalike/internal/supervisor/services"
	"github.com/tomtom215/lookalike/internal/universe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// modelGCInterval is how often the model store value log is compacted.
const modelGCInterval = 10 * time.Minute

// app owns the long-lived components of one process.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	universe *universe.Store
	store    *store.Store
	models   *modelstore.Store
	engine   *lookalike.Engine
	nats     *natsComponents
}

// newApp opens the stores and builds the engine. With NATS enabled the
// engine publishes its events to the bus.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	var err error
	if a.universe, err = universe.Open(ctx, &cfg.Universe, logger); err != nil {
		return nil, fmt.Errorf("failed to open universe: %w", err)
	}
	if a.store, err = store.Open(ctx, &cfg.Relational, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open relational store: %w", err)
	}
	if a.models, err = modelstore.Open(&cfg.ModelStore, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open model store: %w", err)
	}

	opts, err := calculatorOptions(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	engineOpts := []lookalike.Option{lookalike.WithCalculatorOptions(opts)}

	if cfg.NATS.Enabled {
		if a.nats, err = initNATS(&cfg.NATS, logger); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize NATS: %w", err)
		}
		engineOpts = append(engineOpts, lookalike.WithNotifier(a.nats.notifier))
	} else {
		logger.Info().Msg("NATS disabled: run triggers and engine events are off")
	}

	if a.engine, err = lookalike.NewEngine(lookalike.ConfigFrom(cfg), a.store, a.universe, a.models, logger, engineOpts...); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info().
		Str("universe", a.universe.Source()).
		Str("relational_driver", a.store.Driver()).
		Str("strategy", cfg.Scoring.DefaultStrategy).
		Int("workers", cfg.Scoring.Workers).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Lookalike engine initialized")
	return a, nil
}

// calculatorOptions maps the strategy sections of the config.
func calculatorOptions(cfg *config.Config) (calculator.Options, error) {
	registry, err := cfg.FeatureRegistry()
	if err != nil {
		return calculator.Options{}, fmt.Errorf("invalid feature configuration: %w", err)
	}
	opts := calculator.DefaultOptions()
	opts.Registry = registry
	opts.ML = calculator.MLParams{
		Trees:          cfg.ML.Trees,
		LearningRate:   cfg.ML.LearningRate,
		MaxDepth:       cfg.ML.MaxDepth,
		MinSamplesLeaf: cfg.ML.MinSamplesLeaf,
		Subsample:      cfg.ML.Subsample,
		Seed:           cfg.ML.Seed,
		MaxCategories:  cfg.ML.MaxCategories,
	}
	opts.Rules = calculator.RuleParams{
		NumericBins:    cfg.RuleBased.NumericBins,
		UniformWeights: cfg.RuleBased.UniformWeights,
		CountSeeds:     cfg.RuleBased.CountSeeds,
	}
	return opts, nil
}

// runOnce runs a single lookalike in the foreground.
func (a *app) runOnce(ctx context.Context, id int64, mode models.RunMode) error {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	res, err := a.engine.Run(ctx, id, lookalike.RunOptions{Mode: mode})
	if err != nil {
		return fmt.Errorf("lookalike %d: %w", id, err)
	}
	evt := a.logger.Info().
		Int64("lookalike_id", id).
		Int64("universe_size", res.UniverseSize).
		Int64("processed", res.Processed).
		Int64("size", res.Size).
		Int("reused_partitions", res.ReusedPartitions).
		Ints("skipped_partitions", res.SkippedPartitions).
		Bool("model_reused", res.ModelReused).
		Dur("duration", res.Duration)
	if res.SimilarityScore != nil {
		evt = evt.Float64("score_min", res.SimilarityScore.Min).
			Float64("score_max", res.SimilarityScore.Max).
			Float64("score_median", res.SimilarityScore.Median)
	}
	evt.Msg("Lookalike run completed")
	return nil
}

// serve runs the supervisor tree until ctx is canceled.
func (a *app) serve(ctx context.Context) error {
	tree, err := supervisor.NewSupervisorTree(
		logging.NewSlogLogger(a.logger),
		supervisor.TreeConfigFrom(&a.cfg.Supervisor),
	)
	if err != nil {
		return fmt.Errorf("failed to create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewGCService(a.models, modelGCInterval, a.logger))

	if a.nats != nil {
		tree.AddMessagingService(services.NewTriggerService(a.nats.triggerRouterFactory(a.engine)))
		a.logger.Info().Str("topic", a.nats.settings.Topics.Requested()).Msg("Run trigger consumer added to supervisor tree")
	}

	if a.cfg.Server.Enabled {
		server := a.httpServer()
		tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
		a.logger.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	}

	a.logger.Info().Msg("Starting supervisor tree...")
	err = tree.Serve(ctx)

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		a.logger.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	a.logger.Info().Msg("Shutdown complete")
	return nil
}

func (a *app) httpServer() *http.Server {
	opts := []api.HandlerOption{
		api.WithHealthCheck("relational", a.store.Ping),
		api.WithHealthCheck("universe", a.universe.DB().PingContext),
	}
	if a.nats != nil {
		opts = append(opts,
			api.WithEnqueuer(a.nats.requester),
			api.WithHealthCheck("nats", a.nats.healthCheck),
		)
	}
	handler := api.NewHandler(a.store, a.logger, opts...)

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:           api.NewRouter(handler, api.MiddlewareConfigFrom(&a.cfg.Server)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.Timeout,
		WriteTimeout:      a.cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
}

// Close releases every component in reverse order of opening.
func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.models != nil {
		if err := a.models.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Error closing model store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Error closing relational store")
		}
	}
	if a.universe != nil {
		if err := a.universe.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Error closing universe")
		}
	}
}
