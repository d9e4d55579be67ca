// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package eventprocessor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/lookalike/internal/logging"
	"github.com/tomtom215/lookalike/internal/metrics"
)

// Publisher wraps a Watermill publisher with circuit breaker protection.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[any]
	topics         Topics
	mu             sync.RWMutex
	closed         bool
	logger         watermill.LoggerAdapter
}

// NewPublisher creates a JetStream publisher. Message UUIDs double as
// Nats-Msg-Id for deduplication.
func NewPublisher(cfg *PublisherConfig, topics Topics, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	natsOpts := append(connectionOptions("publisher", cfg.MaxReconnects, cfg.ReconnectWait, logger),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer))

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: cfg.AutoProvision,
			TrackMsgId:    cfg.EnableTrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return NewPublisherFrom(pub, topics, logger), nil
}

// NewPublisherFrom wraps an existing Watermill publisher.
func NewPublisherFrom(pub message.Publisher, topics Topics, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{publisher: pub, topics: topics, logger: logger}
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *Publisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[any]) {
	p.circuitBreaker = cb
}

// Publish sends msg to the subject of topic.
func (p *Publisher) Publish(_ context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	subject := p.topics.Subject(topic)
	var err error
	if p.circuitBreaker != nil {
		err = executeWithBreaker(p.circuitBreaker, func() error {
			return p.publisher.Publish(subject, msg)
		})
	} else {
		err = p.publisher.Publish(subject, msg)
	}
	metrics.RecordEventPublish(topic, err)
	return err
}

// PublishJSON encodes v and publishes it on topic. The lookalike ID and
// correlation ID of ctx travel as metadata.
func (p *Publisher) PublishJSON(ctx context.Context, topic string, lookalikeID int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.Metadata.Set("lookalike_id", strconv.FormatInt(lookalikeID, 10))
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		msg.Metadata.Set("correlation_id", cid)
	}
	msg.SetContext(ctx)
	return p.Publish(ctx, topic, msg)
}

// Close shuts down the underlying publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// WatermillPublisher returns the underlying publisher, for middleware such
// as the poison queue that needs the native interface.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.publisher
}
