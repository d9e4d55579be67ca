// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

//go:build integration

package testinfra

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultNATSImage is the NATS server image used for bus tests.
	DefaultNATSImage = "nats:2.10-alpine"

	natsClientPort = "4222/tcp"
)

// NATSContainer is a running NATS server with JetStream enabled.
type NATSContainer struct {
	testcontainers.Container
	URL string
}

// NewNATSContainer starts a JetStream-enabled NATS server.
func NewNATSContainer(ctx context.Context) (*NATSContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        DefaultNATSImage,
		ExposedPorts: []string{natsClientPort},
		Cmd:          []string{"-js"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Server is ready"),
			wait.ForListeningPort(natsClientPort),
		).WithStartupTimeout(30 * time.Second),
	}

	c, addr, err := startContainer(ctx, "nats", req)
	if err != nil {
		return nil, err
	}
	return &NATSContainer{Container: c, URL: "nats://" + addr}, nil
}
