// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/eventprocessor"
	"github.com/tomtom215/lookalike/internal/supervisor/services"
)

// natsComponents holds the NATS-side components for lifecycle management.
type natsComponents struct {
	settings  eventprocessor.Settings
	wmLogger  watermill.LoggerAdapter
	logger    zerolog.Logger
	publisher *eventprocessor.Publisher
	notifier  *eventprocessor.Notifier
	requester *eventprocessor.RunRequester

	// health is a plain client connection used for readiness checks.
	health *natsgo.Conn
}

// initNATS builds the publisher chain: watermill JetStream publisher,
// circuit breaker, progress-throttling notifier and run requester.
func initNATS(cfg *config.NATSConfig, logger zerolog.Logger) (*natsComponents, error) {
	settings, err := eventprocessor.SettingsFrom(cfg)
	if err != nil {
		return nil, err
	}
	wmLogger := eventprocessor.NewWatermillLogger(logger)

	publisher, err := eventprocessor.NewPublisher(&settings.Publisher, settings.Topics, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	publisher.SetCircuitBreaker(eventprocessor.NewCircuitBreaker(settings.CircuitBreaker))

	notifier, err := eventprocessor.NewNotifier(publisher, settings.ProgressPerSecond)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}
	requester, err := eventprocessor.NewRunRequester(publisher)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	health, err := natsgo.Connect(cfg.URL,
		natsgo.Name("lookalike-health"),
		natsgo.MaxReconnects(-1),
		natsgo.RetryOnFailedConnect(true),
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("connect health client: %w", err)
	}

	logger.Info().
		Str("url", cfg.URL).
		Str("subject_prefix", settings.Topics.Prefix).
		Str("poison_topic", settings.Router.PoisonQueueTopic).
		Int("retries", settings.Router.RetryMaxRetries).
		Msg("NATS event publishing initialized")

	return &natsComponents{
		settings:  settings,
		wmLogger:  wmLogger,
		logger:    logger,
		publisher: publisher,
		notifier:  notifier,
		requester: requester,
		health:    health,
	}, nil
}

// triggerRouterFactory returns a factory that wires a fresh subscriber and
// router around the trigger handler. The supervisor calls it on every
// (re)start since a closed watermill router cannot run again.
func (n *natsComponents) triggerRouterFactory(runner eventprocessor.Runner) func() (services.TriggerRouter, error) {
	handler := eventprocessor.NewTriggerHandler(runner, n.logger)
	return func() (services.TriggerRouter, error) {
		sub, err := eventprocessor.NewSubscriber(&n.settings.Subscriber, n.wmLogger)
		if err != nil {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}
		router, err := eventprocessor.NewRouter(&n.settings.Router, n.publisher.WatermillPublisher(), n.wmLogger)
		if err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("create router: %w", err)
		}
		eventprocessor.RegisterTrigger(router, n.settings.Topics, sub, handler)
		return &closingRouter{Router: router, closeSub: sub.Close}, nil
	}
}

// closingRouter closes the subscriber together with its router.
type closingRouter struct {
	*eventprocessor.Router
	closeSub func() error
}

func (r *closingRouter) Close() error {
	return errors.Join(r.Router.Close(), r.closeSub())
}

var errNATSDisconnected = errors.New("nats connection is not established")

func (n *natsComponents) healthCheck(context.Context) error {
	if !n.health.IsConnected() {
		return errNATSDisconnected
	}
	return nil
}

// Close releases the publisher and the health connection.
func (n *natsComponents) Close() {
	if err := n.publisher.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Error closing NATS publisher")
	}
	n.health.Close()
}
