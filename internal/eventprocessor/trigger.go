// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package eventprocessor

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/logging"
	"github.com/tomtom215/lookalike/internal/lookalike"
	"github.com/tomtom215/lookalike/internal/lookalike/calculator"
	"github.com/tomtom215/lookalike/internal/lookalike/features"
	"github.com/tomtom215/lookalike/internal/metrics"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/store"
	"github.com/tomtom215/lookalike/internal/validation"
)

// TriggerHandlerName is the router handler name of the trigger consumer.
const TriggerHandlerName = "lookalike-trigger"

// Runner executes lookalike runs. *lookalike.Engine implements it.
type Runner interface {
	Run(ctx context.Context, id int64, opts lookalike.RunOptions) (*lookalike.Result, error)
}

// TriggerHandler consumes RunRequest messages. A message is acknowledged
// once its run reaches a terminal status; only errors a later attempt could
// fix are returned to the router for retry.
type TriggerHandler struct {
	runner Runner
	logger zerolog.Logger
}

// NewTriggerHandler creates a trigger handler.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewTriggerHandler(runner Runner, logger zerolog.Logger) *TriggerHandler {
	return &TriggerHandler{
		runner: runner,
		logger: logger.With().Str("component", "trigger").Logger(),
	}
}

// Handle runs the requested lookalike.
func (h *TriggerHandler) Handle(msg *message.Message) error {
	var req models.RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		h.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed run request")
		metrics.RecordTrigger("invalid")
		return nil
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		h.logger.Warn().Err(verr).Str("message_uuid", msg.UUID).Msg("Dropping invalid run request")
		metrics.RecordTrigger("invalid")
		return nil
	}

	ctx := msg.Context()
	if cid := msg.Metadata.Get("correlation_id"); cid != "" {
		ctx = logging.ContextWithCorrelationID(ctx, cid)
	}

	_, err := h.runner.Run(ctx, req.LookalikeID, lookalike.RunOptions{Mode: req.Mode})
	switch {
	case err == nil:
		metrics.RecordTrigger("ok")
		return nil
	case isFinal(err):
		h.logger.Info().Err(err).Int64("lookalike_id", req.LookalikeID).Msg("Run request settled without retry")
		metrics.RecordTrigger("rejected")
		return nil
	default:
		metrics.RecordTrigger("error")
		return err
	}
}

// isFinal reports whether retrying the same request cannot succeed.
func isFinal(err error) bool {
	return errors.Is(err, lookalike.ErrRunInProgress) ||
		errors.Is(err, store.ErrNotFound) ||
		calculator.IsInsufficientSeedData(err) ||
		features.IsConfigError(err)
}

// RegisterTrigger adds the trigger handler to r.
func RegisterTrigger(r *Router, topics Topics, sub message.Subscriber, h *TriggerHandler) {
	r.AddConsumerHandler(TriggerHandlerName, topics.Requested(), sub, h.Handle)
}

// RunRequester publishes run requests for the trigger consumer.
type RunRequester struct {
	publisher EventPublisher
}

// NewRunRequester creates a RunRequester.
func NewRunRequester(pub EventPublisher) (*RunRequester, error) {
	if pub == nil {
		return nil, ErrNilPublisher
	}
	return &RunRequester{publisher: pub}, nil
}

// Enqueue publishes req on the requested topic.
func (q *RunRequester) Enqueue(ctx context.Context, req models.RunRequest) error {
	return q.publisher.PublishJSON(ctx, models.TopicRequested, req.LookalikeID, req)
}
