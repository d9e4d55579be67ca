// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package testinfra provides test infrastructure for integration testing with containers.
//
// This package uses testcontainers-go to start the external services the
// engine talks to in production: PostgreSQL for the relational store and a
// JetStream-enabled NATS server for the trigger bus.
//
//	func TestStorePostgres(t *testing.T) {
//	    testinfra.RequireDocker(t)
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    testcontainers.CleanupContainer(t, pg)
//
//	    st, err := store.Open(ctx, &config.RelationalConfig{Driver: "postgres", URL: pg.DSN}, zerolog.Nop())
//	    // ...
//	}
//
// Every file carries the integration build tag:
//
//	go test -tags integration ./...
package testinfra
