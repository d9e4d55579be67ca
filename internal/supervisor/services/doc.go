// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package services adapts engine components to suture.Service.
//
// Each wrapper translates a component's own lifecycle (ListenAndServe and
// Shutdown, Router.Run and Close, a periodic task) into Serve(ctx) so the
// supervisor can restart it on failure.
package services
