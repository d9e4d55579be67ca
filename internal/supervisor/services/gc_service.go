// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// GarbageCollector reclaims space in a store. *modelstore.Store implements it.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// GCService runs value-log garbage collection of the model store on an
// interval. GC errors are logged and never stop the service.
type GCService struct {
	store        GarbageCollector
	interval     time.Duration
	discardRatio float64
	logger       zerolog.Logger
	name         string
}

// NewGCService creates the service. A non-positive interval uses 10 minutes.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewGCService(store GarbageCollector, interval time.Duration, logger zerolog.Logger) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{
		store:        store,
		interval:     interval,
		discardRatio: 0.5,
		logger:       logger.With().Str("component", "model-gc").Logger(),
		name:         "model-store-gc",
	}
}

// Serve implements suture.Service.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.store.RunGC(s.discardRatio); err != nil {
				s.logger.Warn().Err(err).Msg("Model store GC failed")
				continue
			}
			s.logger.Debug().Dur("duration", time.Since(start)).Msg("Model store GC finished")
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *GCService) String() string {
	return s.name
}
