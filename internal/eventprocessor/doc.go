// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package eventprocessor connects the scoring engine to the event bus.
//
// Outbound, Notifier turns run progress, completion and failure into JSON
// messages on the lookalike.* subjects through a circuit-breaker protected
// Publisher. Inbound, a Watermill Router consumes lookalike.requested and
// hands each validated RunRequest to the engine.
//
// Architecture:
//
//	Engine --> Notifier --> Publisher (gobreaker) --> NATS JetStream
//	NATS JetStream --> Subscriber --> Router (Recoverer, PoisonQueue, Retry) --> TriggerHandler --> Engine
//
// Any Watermill Publisher or Subscriber can stand in for NATS; tests use
// the gochannel pub/sub.
package eventprocessor
