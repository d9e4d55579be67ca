// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package services

import (
	"context"
	"errors"
	"fmt"
)

// TriggerRouter matches the eventprocessor.Router lifecycle.
type TriggerRouter interface {
	Run(ctx context.Context) error
	Close() error
}

// TriggerService runs the trigger router consuming run requests.
//
// A Watermill router cannot be run twice, so the service takes a factory
// and builds a fresh router for every (re)start.
type TriggerService struct {
	newRouter func() (TriggerRouter, error)
	name      string
}

// NewTriggerService creates the service.
func NewTriggerService(newRouter func() (TriggerRouter, error)) *TriggerService {
	return &TriggerService{newRouter: newRouter, name: "trigger-router"}
}

// Serve implements suture.Service.
func (s *TriggerService) Serve(ctx context.Context) error {
	router, err := s.newRouter()
	if err != nil {
		return fmt.Errorf("build trigger router: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("trigger router stopped unexpectedly")
		}
		return fmt.Errorf("trigger router failed: %w", err)
	case <-ctx.Done():
		closeErr := router.Close()
		<-errCh
		if closeErr != nil {
			return fmt.Errorf("trigger router close failed: %w", closeErr)
		}
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *TriggerService) String() string {
	return s.name
}
