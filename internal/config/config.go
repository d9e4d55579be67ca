// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package config loads the engine configuration from defaults, an optional
// YAML file and environment variables.
package config

import (
	"time"
)

// Config holds all application configuration loaded from environment variables and config files.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Storage:
//     - Universe: DuckDB candidate universe (table or Parquet glob)
//     - Relational: Lookalike state, checkpoints and membership (Postgres or DuckDB)
//     - ModelStore: Badger store for serialized scoring models
//
//  2. Scoring:
//     - Scoring: Partitioning, block size, workers and target-size caps
//     - ML, RuleBased: Strategy hyperparameters
//     - Checkpoint: Retry policy and progress event interval
//     - Features: Extra column encoding rules
//
//  3. Runtime:
//     - NATS: Trigger consumption and event publishing
//     - Server: Metrics and health endpoint
//     - Logging, Supervisor
//
// Thread Safety:
// Config is immutable after LoadWithKoanf() and safe for concurrent read access.
type Config struct {
	Universe   UniverseConfig   `koanf:"universe"`
	Relational RelationalConfig `koanf:"relational"`
	ModelStore ModelStoreConfig `koanf:"model_store"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	ML         MLConfig         `koanf:"ml"`
	RuleBased  RuleBasedConfig  `koanf:"rule_based"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	NATS       NATSConfig       `koanf:"nats"`
	Features   FeaturesConfig   `koanf:"features"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// UniverseConfig configures the DuckDB candidate universe.
//
// When ParquetGlob is set the universe is read with read_parquet over the
// matching files and Table is ignored.
type UniverseConfig struct {
	// Path is the DuckDB file; empty opens an in-memory database.
	Path           string `koanf:"path"`
	Table          string `koanf:"table" validate:"required_without=ParquetGlob"`
	ParquetGlob    string `koanf:"parquet_glob"`
	IDColumn       string `koanf:"id_column" validate:"required"`
	MatchKeyColumn string `koanf:"match_key_column" validate:"required"`
	MaxMemory      string `koanf:"max_memory"`
	// Threads of 0 uses runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0,max=512"`
}

// RelationalConfig selects the store for lookalike state.
type RelationalConfig struct {
	Driver   string `koanf:"driver" validate:"oneof=postgres duckdb"`
	URL      string `koanf:"url" validate:"required_if=Driver postgres"`
	// Path is the DuckDB file when Driver is duckdb; empty is in-memory.
	Path     string `koanf:"path"`
	MaxConns int32  `koanf:"max_conns" validate:"min=1,max=1000"`
}

// ModelStoreConfig configures the badger model artifact store.
type ModelStoreConfig struct {
	Path       string `koanf:"path" validate:"required_unless=InMemory true"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// ScoringConfig controls partitioning and candidate selection. RowLimit
// caps each partition scan; 0 is unlimited.
type ScoringConfig struct {
	Buckets             int    `koanf:"buckets" validate:"min=1,max=65536"`
	BucketsPerPartition int    `koanf:"buckets_per_partition" validate:"min=1"`
	BlockSize           int    `koanf:"block_size" validate:"min=1"`
	Workers             int    `koanf:"workers" validate:"min=1,max=256"`
	RowLimit            int64  `koanf:"row_limit" validate:"min=0"`
	SeedChunkSize       int    `koanf:"seed_chunk_size" validate:"min=1,max=65535"`
	DefaultStrategy     string `koanf:"default_strategy" validate:"strategy"`
	// TargetSizes overrides the candidate cap of each target size.
	TargetSizes map[string]int `koanf:"target_sizes" validate:"dive,keys,target_size,endkeys,gt=0"`
	PruneScores bool           `koanf:"prune_scores"`
	RunTimeout  time.Duration  `koanf:"run_timeout" validate:"min=0"`
}

// MLConfig holds gradient-boosting hyperparameters.
type MLConfig struct {
	Trees          int     `koanf:"trees" validate:"min=1,max=5000"`
	LearningRate   float64 `koanf:"learning_rate" validate:"gt=0,lte=1"`
	MaxDepth       int     `koanf:"max_depth" validate:"min=1,max=16"`
	MinSamplesLeaf int     `koanf:"min_samples_leaf" validate:"min=1"`
	Subsample      float64 `koanf:"subsample" validate:"gt=0,lte=1"`
	Seed           uint64  `koanf:"seed"`
	MaxCategories  int     `koanf:"max_categories" validate:"min=1,max=4096"`
}

// RuleBasedConfig holds rule-based strategy settings.
type RuleBasedConfig struct {
	NumericBins int `koanf:"numeric_bins" validate:"min=1,max=1000"`

	// UniformWeights ignores significant-field weights when scoring.
	UniformWeights bool `koanf:"uniform_weights"`

	// CountSeeds builds distributions from seed counts instead of seed values.
	CountSeeds bool `koanf:"count_seeds"`
}

// CheckpointConfig controls checkpoint retries and progress reporting.
type CheckpointConfig struct {
	MaxRetries       uint64        `koanf:"max_retries" validate:"max=100"`
	InitialInterval  time.Duration `koanf:"initial_interval" validate:"gt=0"`
	MaxInterval      time.Duration `koanf:"max_interval" validate:"gtefield=InitialInterval"`
	ProgressInterval time.Duration `koanf:"progress_interval" validate:"min=0"`
}

// NATSConfig holds NATS settings for trigger consumption and event publishing.
type NATSConfig struct {
	Enabled          bool   `koanf:"enabled"`
	URL              string `koanf:"url" validate:"required_if=Enabled true"`
	SubjectPrefix    string `koanf:"subject_prefix"`
	DurableName      string `koanf:"durable_name"`
	QueueGroup       string `koanf:"queue_group"`
	SubscribersCount int    `koanf:"subscribers_count" validate:"min=1,max=64"`

	// Router settings (Watermill Router middleware)
	RouterRetryCount           int           `koanf:"router_retry_count" validate:"min=0,max=20"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterPoisonQueueEnabled   bool          `koanf:"router_poison_queue_enabled"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic" validate:"required_if=RouterPoisonQueueEnabled true"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// FeaturesConfig adds or overrides column encoding rules.
type FeaturesConfig struct {
	Columns []FeatureColumnConfig `koanf:"columns" validate:"dive"`
}

// FeatureColumnConfig describes one universe column.
type FeatureColumnConfig struct {
	Name   string   `koanf:"name" validate:"required"`
	Kind   string   `koanf:"kind" validate:"oneof=numeric categorical ordinal"`
	Levels []string `koanf:"levels" validate:"required_if=Kind ordinal"`
}

// ServerConfig configures the metrics and health HTTP server.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists the origins allowed to read the status API.
	// Empty disables cross-origin access.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitRequests per RateLimitWindow per client IP on /api/v1.
	// Zero disables rate limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig tunes the suture supervisor tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

