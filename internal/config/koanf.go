// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/lookalike/config.yaml",
	"/etc/lookalike/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Universe: UniverseConfig{
			Path:           "/data/universe.duckdb",
			Table:          "universe_persons",
			IDColumn:       "id",
			MatchKeyColumn: "match_key",
			MaxMemory:      "4GB",
			Threads:        0, // 0 = use runtime.NumCPU()
		},
		Relational: RelationalConfig{
			Driver:   "duckdb",
			Path:     "/data/lookalike.duckdb",
			MaxConns: 10,
		},
		ModelStore: ModelStoreConfig{
			Path:       "/data/models",
			InMemory:   false,
			SyncWrites: true,
		},
		Scoring: ScoringConfig{
			Buckets:             100,
			BucketsPerPartition: 10,
			BlockSize:           250000,
			Workers:             4,
			RowLimit:            0, // unlimited
			SeedChunkSize:       2000,
			DefaultStrategy:     "ml",
			PruneScores:         false,
			RunTimeout:          0, // no deadline
		},
		ML: MLConfig{
			Trees:          100,
			LearningRate:   0.1,
			MaxDepth:       3,
			MinSamplesLeaf: 5,
			Subsample:      1.0,
			Seed:           1,
			MaxCategories:  64,
		},
		RuleBased: RuleBasedConfig{
			NumericBins:    10,
			UniformWeights: false,
			CountSeeds:     false,
		},
		Checkpoint: CheckpointConfig{
			MaxRetries:       5,
			InitialInterval:  100 * time.Millisecond,
			MaxInterval:      5 * time.Second,
			ProgressInterval: time.Second,
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			SubjectPrefix:    "",
			DurableName:      "lookalike-engine",
			QueueGroup:       "lookalike-workers",
			SubscribersCount: 1,
			// Router defaults (Watermill Router middleware)
			RouterRetryCount:           3,
			RouterRetryInitialInterval: 500 * time.Millisecond,
			RouterPoisonQueueEnabled:   true,
			RouterPoisonQueueTopic:     "lookalike.poison",
			RouterCloseTimeout:         30 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9464,
			Timeout: 30 * time.Second,

			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence is ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// DUCKDB_PATH -> universe.path
	// LOOKALIKE_WORKERS -> scoring.workers
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processMapFields(k); err != nil {
		return nil, fmt.Errorf("failed to process map fields: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// mapConfigPaths are parsed from "key=value,key=value" strings when they
// arrive from the environment.
var mapConfigPaths = []string{
	"scoring.target_sizes",
}

// sliceConfigPaths are parsed from comma-separated strings when they arrive
// from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		k.Delete(path)
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// processMapFields converts comma-separated key=value strings to maps for
// known map fields. Values from YAML are already maps and are left alone.
func processMapFields(k *koanf.Koanf) error {
	for _, path := range mapConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strings.TrimSpace(strVal) == "" {
			continue
		}

		parsed := make(map[string]interface{})
		for _, pair := range strings.Split(strVal, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			key, value, found := strings.Cut(pair, "=")
			if !found {
				return fmt.Errorf("%s: expected key=value, got %q", path, pair)
			}
			parsed[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}

		// Delete first: Set merges into the existing string value otherwise.
		k.Delete(path)
		if err := k.Set(path, parsed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped.
//
// Examples:
//   - DUCKDB_PATH -> universe.path
//   - DATABASE_URL -> relational.url
//   - LOOKALIKE_WORKERS -> scoring.workers
//   - NATS_URL -> nats.url
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Universe mappings
		"duckdb_path":                  "universe.path",
		"duckdb_max_memory":            "universe.max_memory",
		"duckdb_threads":               "universe.threads",
		"universe_table":               "universe.table",
		"universe_parquet_glob":        "universe.parquet_glob",
		"universe_id_column":           "universe.id_column",
		"universe_match_key_column":    "universe.match_key_column",
		"lookalike_universe_table":     "universe.table",
		"lookalike_universe_parquet":   "universe.parquet_glob",
		"lookalike_universe_id_column": "universe.id_column",

		// Relational store mappings
		"database_driver":    "relational.driver",
		"database_url":       "relational.url",
		"database_path":      "relational.path",
		"database_max_conns": "relational.max_conns",

		// Model store mappings
		"model_store_path":      "model_store.path",
		"model_store_in_memory": "model_store.in_memory",
		"model_store_sync":      "model_store.sync_writes",

		// Scoring mappings
		"lookalike_buckets":               "scoring.buckets",
		"lookalike_buckets_per_partition": "scoring.buckets_per_partition",
		"lookalike_block_size":            "scoring.block_size",
		"lookalike_workers":               "scoring.workers",
		"lookalike_row_limit":             "scoring.row_limit",
		"lookalike_seed_chunk_size":       "scoring.seed_chunk_size",
		"lookalike_default_strategy":      "scoring.default_strategy",
		"lookalike_target_sizes":          "scoring.target_sizes",
		"lookalike_prune_scores":          "scoring.prune_scores",
		"lookalike_run_timeout":           "scoring.run_timeout",

		// ML strategy mappings
		"lookalike_ml_trees":            "ml.trees",
		"lookalike_ml_learning_rate":    "ml.learning_rate",
		"lookalike_ml_max_depth":        "ml.max_depth",
		"lookalike_ml_min_samples_leaf": "ml.min_samples_leaf",
		"lookalike_ml_subsample":        "ml.subsample",
		"lookalike_ml_seed":             "ml.seed",
		"lookalike_ml_max_categories":   "ml.max_categories",

		// Rule-based strategy mappings
		"lookalike_rule_numeric_bins":    "rule_based.numeric_bins",
		"lookalike_rule_uniform_weights": "rule_based.uniform_weights",
		"lookalike_rule_count_seeds":     "rule_based.count_seeds",

		// Checkpoint mappings
		"checkpoint_max_retries":       "checkpoint.max_retries",
		"checkpoint_initial_interval":  "checkpoint.initial_interval",
		"checkpoint_max_interval":      "checkpoint.max_interval",
		"checkpoint_progress_interval": "checkpoint.progress_interval",

		// NATS mappings
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_subject_prefix": "nats.subject_prefix",
		"nats_durable_name":   "nats.durable_name",
		"nats_queue_group":    "nats.queue_group",
		"nats_subscribers":    "nats.subscribers_count",
		// Router configuration environment mappings
		"nats_router_retry_count":    "nats.router_retry_count",
		"nats_router_retry_interval": "nats.router_retry_initial_interval",
		"nats_router_poison_enabled": "nats.router_poison_queue_enabled",
		"nats_router_poison_topic":   "nats.router_poison_queue_topic",
		"nats_router_close_timeout":  "nats.router_close_timeout",

		// Server mappings
		"http_enabled":           "server.enabled",
		"http_port":              "server.port",
		"http_host":              "server.host",
		"http_timeout":           "server.timeout",
		"http_cors_origins":      "server.cors_origins",
		"http_rate_limit":        "server.rate_limit_requests",
		"http_rate_limit_window": "server.rate_limit_window",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Supervisor mappings
		"supervisor_failure_threshold": "supervisor.failure_threshold",
		"supervisor_failure_decay":     "supervisor.failure_decay",
		"supervisor_failure_backoff":   "supervisor.failure_backoff",
		"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
