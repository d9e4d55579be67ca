// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package supervisor runs the long-lived engine services under a suture/v4
// supervisor tree.
//
// The tree has three layers so that a crash in one does not restart the
// others:
//   - data: store maintenance (model store value-log GC)
//   - messaging: the trigger router consuming lookalike.requested
//   - api: the health and metrics HTTP server
//
// Supervisor events are logged through sutureslog on top of the zerolog
// slog handler.
package supervisor
