// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package models

// Topics published and consumed on the event bus, relative to the subject prefix.
const (
	TopicRequested = "lookalike.requested"
	TopicProgress  = "lookalike.progress"
	TopicCompleted = "lookalike.completed"
	TopicFailed    = "lookalike.failed"
)

// RunRequest asks the engine to process a lookalike that already exists.
type RunRequest struct {
	LookalikeID int64   `json:"lookalike_id" validate:"required,gt=0"`
	Mode        RunMode `json:"mode,omitempty" validate:"omitempty,run_mode"`
}

// ProgressEvent reports scan progress against the universe size.
type ProgressEvent struct {
	LookalikeID int64 `json:"lookalike_id"`
	Total       int64 `json:"total"`
	Processed   int64 `json:"processed"`
}

// CompletedEvent is published once a run has been finalized.
type CompletedEvent struct {
	ProgressEvent
	Size            int64            `json:"size"`
	SimilarityScore *SimilarityScore `json:"similarity_score,omitempty"`
}

// FailedEvent is published when a run ends in the failed status.
type FailedEvent struct {
	ProgressEvent
	Error string `json:"error"`
}
