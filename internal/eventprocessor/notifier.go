// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package eventprocessor

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tomtom215/lookalike/internal/metrics"
	"github.com/tomtom215/lookalike/internal/models"
)

// EventPublisher publishes JSON events. *Publisher implements it.
type EventPublisher interface {
	PublishJSON(ctx context.Context, topic string, lookalikeID int64, v any) error
}

// Notifier publishes engine events to the bus. Progress events are rate
// limited per lookalike; completion and failure are always sent and reset
// the lookalike's limiter.
type Notifier struct {
	publisher EventPublisher
	perSecond float64

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewNotifier creates a notifier. perSecond <= 0 disables progress limiting.
func NewNotifier(pub EventPublisher, perSecond float64) (*Notifier, error) {
	if pub == nil {
		return nil, ErrNilPublisher
	}
	return &Notifier{
		publisher: pub,
		perSecond: perSecond,
		limiters:  make(map[int64]*rate.Limiter),
	}, nil
}

func (n *Notifier) allow(id int64) bool {
	if n.perSecond <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(n.perSecond), 1)
		n.limiters[id] = l
	}
	return l.Allow()
}

func (n *Notifier) forget(id int64) {
	n.mu.Lock()
	delete(n.limiters, id)
	n.mu.Unlock()
}

// Progress publishes ev unless the lookalike's limiter is exhausted.
func (n *Notifier) Progress(ctx context.Context, ev models.ProgressEvent) error {
	if !n.allow(ev.LookalikeID) {
		metrics.RecordEventThrottled()
		return nil
	}
	return n.publisher.PublishJSON(ctx, models.TopicProgress, ev.LookalikeID, ev)
}

// Completed publishes ev.
func (n *Notifier) Completed(ctx context.Context, ev models.CompletedEvent) error {
	n.forget(ev.LookalikeID)
	return n.publisher.PublishJSON(ctx, models.TopicCompleted, ev.LookalikeID, ev)
}

// Failed publishes ev.
func (n *Notifier) Failed(ctx context.Context, ev models.FailedEvent) error {
	n.forget(ev.LookalikeID)
	return n.publisher.PublishJSON(ctx, models.TopicFailed, ev.LookalikeID, ev)
}
