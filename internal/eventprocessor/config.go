// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package eventprocessor

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/lookalike/internal/config"
	"github.com/tomtom215/lookalike/internal/models"
)

// PublisherConfig holds NATS publisher settings.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool
	// AutoProvision creates missing JetStream streams on first publish.
	AutoProvision bool
}

// DefaultPublisherConfig returns production defaults.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		EnableTrackMsgID: true,
		AutoProvision:    true,
	}
}

// SubscriberConfig holds NATS subscriber settings.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	MaxReconnects    int
	ReconnectWait    time.Duration
	CloseTimeout     time.Duration
}

// DefaultSubscriberConfig returns production defaults. AckWaitTimeout is
// long because a trigger is acknowledged only after its run finishes.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "lookalike-engine",
		QueueGroup:       "lookalike-workers",
		SubscribersCount: 1,
		AckWaitTimeout:   2 * time.Hour,
		MaxDeliver:       5,
		MaxAckPending:    16,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		CloseTimeout:     30 * time.Second,
	}
}

// RouterConfig holds configuration for the Watermill Router.
type RouterConfig struct {
	// CloseTimeout is how long to wait for handlers to finish when closing.
	CloseTimeout time.Duration

	// Retry configuration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// PoisonQueueTopic receives triggers that failed every retry; empty disables it.
	PoisonQueueTopic string
}

// DefaultRouterConfig returns production defaults for the Router.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     "lookalike.poison",
	}
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Topics maps event topics to bus subjects under an optional prefix.
type Topics struct {
	Prefix string
}

// Subject returns the full subject of a topic.
func (t Topics) Subject(topic string) string {
	prefix := strings.TrimSuffix(t.Prefix, ".")
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}

// Requested is the subject the trigger handler consumes.
func (t Topics) Requested() string { return t.Subject(models.TopicRequested) }

// Settings groups the event bus configuration derived from the
// application config.
type Settings struct {
	Topics         Topics
	Publisher      PublisherConfig
	Subscriber     SubscriberConfig
	Router         RouterConfig
	CircuitBreaker CircuitBreakerConfig
	// ProgressPerSecond limits progress events per lookalike; 0 disables the limit.
	ProgressPerSecond float64
}

// SettingsFrom maps the NATS section of the application config.
func SettingsFrom(cfg *config.NATSConfig) (Settings, error) {
	if cfg == nil || cfg.URL == "" {
		return Settings{}, fmt.Errorf("%w: nats url is required", ErrInvalidConfig)
	}

	sub := DefaultSubscriberConfig(cfg.URL)
	if cfg.DurableName != "" {
		sub.DurableName = cfg.DurableName
	}
	if cfg.QueueGroup != "" {
		sub.QueueGroup = cfg.QueueGroup
	}
	if cfg.SubscribersCount > 0 {
		sub.SubscribersCount = cfg.SubscribersCount
	}

	router := DefaultRouterConfig()
	router.RetryMaxRetries = cfg.RouterRetryCount
	if cfg.RouterRetryInitialInterval > 0 {
		router.RetryInitialInterval = cfg.RouterRetryInitialInterval
	}
	if cfg.RouterCloseTimeout > 0 {
		router.CloseTimeout = cfg.RouterCloseTimeout
	}
	router.PoisonQueueTopic = ""
	if cfg.RouterPoisonQueueEnabled {
		router.PoisonQueueTopic = Topics{Prefix: cfg.SubjectPrefix}.Subject(cfg.RouterPoisonQueueTopic)
	}

	return Settings{
		Topics:            Topics{Prefix: cfg.SubjectPrefix},
		Publisher:         DefaultPublisherConfig(cfg.URL),
		Subscriber:        sub,
		Router:            router,
		CircuitBreaker:    DefaultCircuitBreakerConfig("nats-publisher"),
		ProgressPerSecond: 2,
	}, nil
}
