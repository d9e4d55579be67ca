// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package metrics holds the Prometheus collectors of the scoring engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Partition scans and block scoring
// - Checkpoint writes and retries
// - Run outcomes and training
// - Relational store queries
// - Event publishing and trigger consumption
// - HTTP API requests

var (
	// Run Metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookalike_runs_total",
			Help: "Total number of lookalike runs by strategy and outcome",
		},
		[]string{"strategy", "outcome"}, // outcome: "completed", "failed", "canceled"
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookalike_run_duration_seconds",
			Help:    "Duration of lookalike runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"strategy", "outcome"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lookalike_runs_active",
			Help: "Number of lookalike runs currently in progress",
		},
	)

	// Training Metrics
	SeedSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lookalike_seed_profiles",
			Help:    "Number of usable seed profiles per training",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1 .. 262144
		},
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookalike_training_duration_seconds",
			Help:    "Duration of model training in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Scan Metrics
	RowsScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lookalike_rows_scanned_total",
			Help: "Total number of universe rows scanned",
		},
	)

	BlocksScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookalike_blocks_scored_total",
			Help: "Total number of row blocks scored",
		},
		[]string{"strategy"},
	)

	BlockScoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookalike_block_score_duration_seconds",
			Help:    "Duration of scoring one row block in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	PartitionsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lookalike_partitions_completed_total",
			Help: "Total number of partitions scanned to completion",
		},
	)

	PartitionsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookalike_partitions_skipped_total",
			Help: "Total number of partitions skipped",
		},
		[]string{"reason"}, // reason: "read_error", "resumed"
	)

	// Checkpoint Metrics
	CheckpointWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lookalike_checkpoint_writes_total",
			Help: "Total number of committed checkpoints",
		},
	)

	CheckpointRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lookalike_checkpoint_retries_total",
			Help: "Total number of checkpoint write retries",
		},
	)

	CheckpointFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lookalike_checkpoint_failures_total",
			Help: "Total number of checkpoint writes that exhausted their retries",
		},
	)

	// Relational Store Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookalike_db_query_duration_seconds",
			Help:    "Duration of relational store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookalike_db_query_errors_total",
			Help: "Total number of relational store errors",
		},
		[]string{"operation", "transient"},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookalike_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"topic"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookalike_event_publish_failures_total",
			Help: "Total number of events that failed to publish",
		},
		[]string{"topic"},
	)

	EventsThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lookalike_progress_events_throttled_total",
			Help: "Total number of progress events dropped by the rate limiter",
		},
	)

	TriggersConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookalike_triggers_consumed_total",
			Help: "Total number of run requests consumed",
		},
		[]string{"result"}, // result: "ok", "invalid", "error"
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordRun records the outcome of one run.
func RecordRun(strategy, outcome string, duration time.Duration) {
	RunsTotal.WithLabelValues(strategy, outcome).Inc()
	RunDuration.WithLabelValues(strategy, outcome).Observe(duration.Seconds())
}

// TrackActiveRun increments or decrements the active run gauge.
func TrackActiveRun(inc bool) {
	if inc {
		RunsActive.Inc()
	} else {
		RunsActive.Dec()
	}
}

// RecordTraining records a finished model training.
func RecordTraining(strategy string, seeds int, duration time.Duration) {
	SeedSize.Observe(float64(seeds))
	TrainingDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordBlock records one scored block.
func RecordBlock(strategy string, rows int, duration time.Duration) {
	RowsScanned.Add(float64(rows))
	BlocksScored.WithLabelValues(strategy).Inc()
	BlockScoreDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordPartitionCompleted records a partition scanned to completion.
func RecordPartitionCompleted() {
	PartitionsCompleted.Inc()
}

// RecordPartitionSkipped records a partition that was not scanned.
func RecordPartitionSkipped(reason string) {
	PartitionsSkipped.WithLabelValues(reason).Inc()
}

// RecordCheckpoint records a checkpoint write after the given number of retries.
func RecordCheckpoint(retries int, err error) {
	CheckpointRetries.Add(float64(retries))
	if err != nil {
		CheckpointFailures.Inc()
		return
	}
	CheckpointWrites.Inc()
}

// RecordDBQuery records a relational store operation.
func RecordDBQuery(operation string, duration time.Duration, err error, transient bool) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		label := "false"
		if transient {
			label = "true"
		}
		DBQueryErrors.WithLabelValues(operation, label).Inc()
	}
}

// RecordEventPublish records a publish attempt on topic.
func RecordEventPublish(topic string, err error) {
	if err != nil {
		EventPublishFailures.WithLabelValues(topic).Inc()
		return
	}
	EventsPublished.WithLabelValues(topic).Inc()
}

// RecordEventThrottled records a progress event dropped by the rate limiter.
func RecordEventThrottled() {
	EventsThrottled.Inc()
}

// RecordTrigger records the result of consuming one run request.
func RecordTrigger(result string) {
	TriggersConsumed.WithLabelValues(result).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordRateLimitHit records a request rejected by the rate limiter.
func RecordRateLimitHit(endpoint string) {
	APIRateLimitHits.WithLabelValues(endpoint).Inc()
}
