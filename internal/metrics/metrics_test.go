// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("ml", "completed"))
	RecordRun("ml", "completed", 3*time.Second)
	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("ml", "completed")); got != before+1 {
		t.Errorf("RunsTotal = %v, want %v", got, before+1)
	}
}

func TestTrackActiveRun(t *testing.T) {
	before := testutil.ToFloat64(RunsActive)
	TrackActiveRun(true)
	TrackActiveRun(true)
	TrackActiveRun(false)
	if got := testutil.ToFloat64(RunsActive); got != before+1 {
		t.Errorf("RunsActive = %v, want %v", got, before+1)
	}
	TrackActiveRun(false)
}

func TestRecordBlock(t *testing.T) {
	rows := testutil.ToFloat64(RowsScanned)
	blocks := testutil.ToFloat64(BlocksScored.WithLabelValues("rule_based"))

	RecordBlock("rule_based", 250, 10*time.Millisecond)
	RecordBlock("rule_based", 50, time.Millisecond)

	if got := testutil.ToFloat64(RowsScanned); got != rows+300 {
		t.Errorf("RowsScanned = %v, want %v", got, rows+300)
	}
	if got := testutil.ToFloat64(BlocksScored.WithLabelValues("rule_based")); got != blocks+2 {
		t.Errorf("BlocksScored = %v, want %v", got, blocks+2)
	}
}

func TestRecordCheckpoint(t *testing.T) {
	writes := testutil.ToFloat64(CheckpointWrites)
	retries := testutil.ToFloat64(CheckpointRetries)
	failures := testutil.ToFloat64(CheckpointFailures)

	RecordCheckpoint(0, nil)
	RecordCheckpoint(2, nil)
	RecordCheckpoint(5, errors.New("serialization failure"))

	if got := testutil.ToFloat64(CheckpointWrites); got != writes+2 {
		t.Errorf("CheckpointWrites = %v, want %v", got, writes+2)
	}
	if got := testutil.ToFloat64(CheckpointRetries); got != retries+7 {
		t.Errorf("CheckpointRetries = %v, want %v", got, retries+7)
	}
	if got := testutil.ToFloat64(CheckpointFailures); got != failures+1 {
		t.Errorf("CheckpointFailures = %v, want %v", got, failures+1)
	}
}

func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		label     string
	}{
		{"success", nil, false, ""},
		{"permanent failure", errors.New("syntax error"), false, "false"},
		{"transient failure", errors.New("deadlock detected"), true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before float64
			if tt.label != "" {
				before = testutil.ToFloat64(DBQueryErrors.WithLabelValues("checkpoint", tt.label))
			}
			RecordDBQuery("checkpoint", time.Millisecond, tt.err, tt.transient)
			if tt.label == "" {
				return
			}
			if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("checkpoint", tt.label)); got != before+1 {
				t.Errorf("DBQueryErrors{transient=%s} = %v, want %v", tt.label, got, before+1)
			}
		})
	}
}

func TestRecordEventPublish(t *testing.T) {
	ok := testutil.ToFloat64(EventsPublished.WithLabelValues("lookalike.progress"))
	failed := testutil.ToFloat64(EventPublishFailures.WithLabelValues("lookalike.progress"))

	RecordEventPublish("lookalike.progress", nil)
	RecordEventPublish("lookalike.progress", errors.New("circuit open"))

	if got := testutil.ToFloat64(EventsPublished.WithLabelValues("lookalike.progress")); got != ok+1 {
		t.Errorf("EventsPublished = %v, want %v", got, ok+1)
	}
	if got := testutil.ToFloat64(EventPublishFailures.WithLabelValues("lookalike.progress")); got != failed+1 {
		t.Errorf("EventPublishFailures = %v, want %v", got, failed+1)
	}
}

func TestRecordPartitionSkipped(t *testing.T) {
	before := testutil.ToFloat64(PartitionsSkipped.WithLabelValues("read_error"))
	RecordPartitionSkipped("read_error")
	if got := testutil.ToFloat64(PartitionsSkipped.WithLabelValues("read_error")); got != before+1 {
		t.Errorf("PartitionsSkipped = %v, want %v", got, before+1)
	}
}
