// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// RequireDocker skips t when no container runtime is reachable.
func RequireDocker(t *testing.T) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

// startContainer runs req and returns the container with the host:port of
// its lowest exposed port. Nothing is left running when it fails.
func startContainer(ctx context.Context, service string, req testcontainers.ContainerRequest) (testcontainers.Container, string, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return nil, "", fmt.Errorf("start %s container: %w", service, err)
	}
	addr, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return nil, "", fmt.Errorf("resolve %s endpoint: %w", service, err)
	}
	return c, addr, nil
}
