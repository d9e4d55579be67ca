// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package eventprocessor

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
)

// NewSubscriber connects the trigger consumer. Every engine instance joins
// the same durable consumer and queue group, so each trigger is delivered
// to one instance and redelivered only when that instance fails to ack it.
func NewSubscriber(cfg *SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	wmConfig, err := subscriberConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("connect trigger subscriber to %s: %w", cfg.URL, err)
	}
	return sub, nil
}

func subscriberConfig(cfg *SubscriberConfig, logger watermill.LoggerAdapter) (wmNats.SubscriberConfig, error) {
	switch {
	case cfg == nil || cfg.URL == "":
		return wmNats.SubscriberConfig{}, fmt.Errorf("%w: subscriber url is required", ErrInvalidConfig)
	case cfg.DurableName == "":
		return wmNats.SubscriberConfig{}, fmt.Errorf("%w: durable name is required", ErrInvalidConfig)
	case cfg.SubscribersCount < 1:
		return wmNats.SubscriberConfig{}, fmt.Errorf("%w: subscribers count must be positive", ErrInvalidConfig)
	}

	// A trigger stays unacked for the whole run, so the server must not
	// hand out more of them than the engine will work on at once.
	consumer := []natsgo.SubOpt{
		natsgo.AckExplicit(),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.DeliverAll(),
	}

	return wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      connectionOptions("subscriber", cfg.MaxReconnects, cfg.ReconnectWait, logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    true,
			SubscribeOptions: consumer,
			DurablePrefix:    cfg.DurableName,
		},
	}, nil
}

// connectionOptions are the reconnect settings shared by the publisher and
// the subscriber. role names the connection in log lines.
func connectionOptions(role string, maxReconnects int, wait time.Duration, logger watermill.LoggerAdapter) []natsgo.Option {
	fields := watermill.LogFields{"connection": role}
	return []natsgo.Option{
		natsgo.Name("lookalike-" + role),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(wait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS connection lost", err, fields)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS connection restored", fields.Add(watermill.LogFields{"url": nc.ConnectedUrl()}))
		}),
	}
}
