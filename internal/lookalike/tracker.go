// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package lookalike

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/lookalike/internal/metrics"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/store"
)

// CheckpointWriteError is returned when a checkpoint or partition result
// could not be written after every retry. It fails the run; checkpoints
// committed earlier remain valid.
type CheckpointWriteError struct {
	LookalikeID int64
	Partition   int
	Op          string
	Attempts    int
	Err         error
}

func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("%s of lookalike %d partition %d failed after %d attempts: %v",
		e.Op, e.LookalikeID, e.Partition, e.Attempts, e.Err)
}

func (e *CheckpointWriteError) Unwrap() error {
	return e.Err
}

// IsCheckpointWriteError reports whether err is or wraps a CheckpointWriteError.
func IsCheckpointWriteError(err error) bool {
	var e *CheckpointWriteError
	return errors.As(err, &e)
}

// tracker writes scan progress to the store with retries and reports it to
// the notifier at most once per progress interval.
type tracker struct {
	store    Store
	notifier Notifier
	id       int64
	total    int64
	policy   CheckpointPolicy
	logger   zerolog.Logger

	progress  rate.Sometimes
	processed atomic.Int64
}

//nolint:gocritic // logger passed by value is acceptable for zerolog
func newTracker(st Store, n Notifier, id, total int64, policy CheckpointPolicy, logger zerolog.Logger) *tracker {
	t := &tracker{
		store:    st,
		notifier: n,
		id:       id,
		total:    total,
		policy:   policy,
		logger:   logger,
	}
	if policy.ProgressInterval > 0 {
		t.progress = rate.Sometimes{First: 1, Interval: policy.ProgressInterval}
	} else {
		t.progress = rate.Sometimes{Every: 1}
	}
	return t
}

func (t *tracker) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.policy.InitialInterval
	b.MaxInterval = t.policy.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, t.policy.MaxRetries), ctx)
}

// retry runs fn with exponential backoff. Unknown lookalikes and context
// errors are not retried.
func (t *tracker) retry(ctx context.Context, op string, partitionIndex int, fn func() error) error {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, t.backOff(ctx), func(err error, wait time.Duration) {
		t.logger.Warn().Err(err).
			Str("operation", op).
			Int("partition", partitionIndex).
			Int("attempt", attempts).
			Bool("transient", store.IsTransient(err)).
			Dur("retry_in", wait).
			Msg("Checkpoint write failed, retrying")
	})
	metrics.RecordCheckpoint(attempts-1, err)

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &CheckpointWriteError{
		LookalikeID: t.id,
		Partition:   partitionIndex,
		Op:          op,
		Attempts:    attempts,
		Err:         err,
	}
}

// checkpoint records that scanned rows of a partition have been scored.
func (t *tracker) checkpoint(ctx context.Context, partitionIndex int, scanned int64) error {
	var processed int64
	err := t.retry(ctx, "checkpoint", partitionIndex, func() error {
		var err error
		processed, err = t.store.Checkpoint(ctx, t.id, partitionIndex, scanned)
		return err
	})
	if err != nil {
		return err
	}

	t.advance(processed)
	t.progress.Do(func() { t.publish(ctx) })
	return nil
}

// completePartition persists a partition's top-N and its completion flag.
func (t *tracker) completePartition(ctx context.Context, partitionIndex int, scores []models.CandidateScore) error {
	return t.retry(ctx, "complete_partition", partitionIndex, func() error {
		return t.store.CompletePartition(ctx, t.id, partitionIndex, scores)
	})
}

// advance keeps the highest counter value seen; concurrent checkpoints may
// return out of order.
func (t *tracker) advance(processed int64) {
	for {
		cur := t.processed.Load()
		if processed <= cur || t.processed.CompareAndSwap(cur, processed) {
			return
		}
	}
}

// Processed returns the latest committed counter value.
func (t *tracker) Processed() int64 {
	return t.processed.Load()
}

// flush publishes the final progress unconditionally.
func (t *tracker) flush(ctx context.Context) {
	t.publish(ctx)
}

func (t *tracker) publish(ctx context.Context) {
	ev := models.ProgressEvent{LookalikeID: t.id, Total: t.total, Processed: t.Processed()}
	if err := t.notifier.Progress(ctx, ev); err != nil {
		t.logger.Debug().Err(err).Msg("Progress event not delivered")
	}
}
