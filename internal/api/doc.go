// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

/*
Package api serves the operational HTTP surface of the scoring engine.

Routes:

	GET  /healthz/live                        process liveness
	GET  /healthz/ready                       relational store, universe and broker checks
	GET  /metrics                             Prometheus exposition
	GET  /api/v1/lookalikes/{id}              lookalike status and progress
	GET  /api/v1/lookalikes/{id}/members      finalized membership, paginated
	POST /api/v1/lookalikes/{id}/runs         enqueue a run request

Every /api/v1 response uses the envelope in response.go. Health and metrics
endpoints are not rate limited.
*/
package api
