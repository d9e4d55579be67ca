// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/lookalike/internal/config"
)

// mockService runs until canceled, failing the first maxFails starts.
type mockService struct {
	name     string
	starts   atomic.Int32
	maxFails int32
}

func (m *mockService) Serve(ctx context.Context) error {
	n := m.starts.Add(1)
	if n <= m.maxFails {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSupervisorTreeDefaults(t *testing.T) {
	t.Parallel()
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	if tree.Root() == nil {
		t.Fatal("root supervisor should not be nil")
	}
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want defaults", tree.config)
	}

	cfg := TreeConfigFrom(&config.SupervisorConfig{FailureThreshold: 2, FailureBackoff: time.Second})
	if cfg.FailureThreshold != 2 || cfg.FailureBackoff != time.Second {
		t.Errorf("TreeConfigFrom = %+v", cfg)
	}
}

func TestSupervisorTreeStartsEveryLayer(t *testing.T) {
	t.Parallel()
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{
		FailureBackoff:  10 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}

	data := &mockService{name: "data"}
	messaging := &mockService{name: "messaging", maxFails: 2}
	api := &mockService{name: "api"}
	tree.AddDataService(data)
	tree.AddMessagingService(messaging)
	tree.AddAPIService(api)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not shut down in time")
	}

	if data.starts.Load() != 1 || api.starts.Load() != 1 {
		t.Errorf("data/api started %d/%d times, want 1/1", data.starts.Load(), api.starts.Load())
	}
	if messaging.starts.Load() < 3 {
		t.Errorf("failing service restarted %d times, want at least 3 starts", messaging.starts.Load())
	}
}
