// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/logging"
	"github.com/tomtom215/lookalike/internal/lookalike"
	"github.com/tomtom215/lookalike/internal/lookalike/calculator"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/store"
)

type runCall struct {
	id            int64
	mode          models.RunMode
	correlationID string
}

// fakeRunner records runs and returns the error configured per lookalike.
type fakeRunner struct {
	mu    sync.Mutex
	calls []runCall
	errs  map[int64]error
	done  chan int64
}

func newFakeRunner(errs map[int64]error) *fakeRunner {
	return &fakeRunner{errs: errs, done: make(chan int64, 64)}
}

func (r *fakeRunner) Run(ctx context.Context, id int64, opts lookalike.RunOptions) (*lookalike.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runCall{id: id, mode: opts.Mode, correlationID: logging.CorrelationIDFromContext(ctx)})
	err := r.errs[id]
	r.mu.Unlock()
	r.done <- id
	if err != nil {
		return nil, err
	}
	return &lookalike.Result{LookalikeID: id}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestTriggerHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		payload   string
		runErr    error
		wantCalls int
		wantErr   bool
	}{
		{name: "valid", payload: `{"lookalike_id": 5, "mode": "restart"}`, wantCalls: 1},
		{name: "default mode", payload: `{"lookalike_id": 5}`, wantCalls: 1},
		{name: "malformed json", payload: `{"lookalike_id":`, wantCalls: 0},
		{name: "missing id", payload: `{"mode": "resume"}`, wantCalls: 0},
		{name: "unknown mode", payload: `{"lookalike_id": 5, "mode": "sideways"}`, wantCalls: 0},
		{name: "already running", payload: `{"lookalike_id": 5}`, runErr: lookalike.ErrRunInProgress, wantCalls: 1},
		{name: "unknown lookalike", payload: `{"lookalike_id": 5}`, runErr: fmt.Errorf("load: %w", store.ErrNotFound), wantCalls: 1},
		{name: "no seeds", payload: `{"lookalike_id": 5}`, runErr: &calculator.InsufficientSeedDataError{}, wantCalls: 1},
		{name: "transient failure", payload: `{"lookalike_id": 5}`, runErr: errors.New("connection reset"), wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := newFakeRunner(map[int64]error{5: tt.runErr})
			h := NewTriggerHandler(runner, zerolog.Nop())

			msg := message.NewMessage(watermill.NewUUID(), []byte(tt.payload))
			msg.Metadata.Set("correlation_id", "corr-1")
			err := h.Handle(msg)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := runner.callCount(); got != tt.wantCalls {
				t.Fatalf("runner called %d times, want %d", got, tt.wantCalls)
			}
			if tt.wantCalls > 0 && runner.calls[0].correlationID != "corr-1" {
				t.Errorf("correlation id = %q, want corr-1", runner.calls[0].correlationID)
			}
		})
	}
}

func TestTriggerHandlerPassesMode(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner(nil)
	h := NewTriggerHandler(runner, zerolog.Nop())

	if err := h.Handle(message.NewMessage(watermill.NewUUID(), []byte(`{"lookalike_id": 9, "mode": "restart"}`))); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if c := runner.calls[0]; c.id != 9 || c.mode != models.RunModeRestart {
		t.Errorf("call = %+v, want lookalike 9 in restart mode", c)
	}
}

func TestRouterRunsTriggersAndPoisonsFailures(t *testing.T) {
	t.Parallel()
	ps := newPubSub(t)
	topics := Topics{Prefix: "it"}

	poisoned, err := ps.Subscribe(context.Background(), "it.lookalike.poison")
	if err != nil {
		t.Fatalf("Subscribe poison: %v", err)
	}

	cfg := DefaultRouterConfig()
	cfg.RetryMaxRetries = 2
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	cfg.PoisonQueueTopic = topics.Subject("lookalike.poison")
	cfg.CloseTimeout = 5 * time.Second

	router, err := NewRouter(&cfg, ps, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	runner := newFakeRunner(map[int64]error{2: errors.New("relational store unavailable")})
	RegisterTrigger(router, topics, ps, NewTriggerHandler(runner, zerolog.Nop()))
	if router.Handlers() != 1 {
		t.Fatalf("handlers = %d, want 1", router.Handlers())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	defer router.Close()

	pub := NewPublisherFrom(ps, topics, nil)
	for _, id := range []int64{1, 2} {
		if err := pub.PublishJSON(ctx, models.TopicRequested, id, models.RunRequest{LookalikeID: id}); err != nil {
			t.Fatalf("publish request %d: %v", id, err)
		}
	}

	msg := receive(t, poisoned)
	if msg.Metadata.Get("lookalike_id") != "2" {
		t.Errorf("poisoned message for lookalike %q, want 2", msg.Metadata.Get("lookalike_id"))
	}

	attempts := map[int64]int{}
	runner.mu.Lock()
	for _, c := range runner.calls {
		attempts[c.id]++
	}
	runner.mu.Unlock()
	if attempts[1] != 1 {
		t.Errorf("lookalike 1 ran %d times, want 1", attempts[1])
	}
	if attempts[2] != 3 {
		t.Errorf("lookalike 2 ran %d times, want 3 (1 + 2 retries)", attempts[2])
	}
	if !router.IsRunning() {
		t.Error("router should report running")
	}
}
