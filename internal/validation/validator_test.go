// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/tomtom215/lookalike/internal/models"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

func TestValidateStruct_RunRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     models.RunRequest
		wantField string
		wantTag   string
	}{
		{name: "resume", input: models.RunRequest{LookalikeID: 7, Mode: models.RunModeResume}},
		{name: "restart", input: models.RunRequest{LookalikeID: 7, Mode: models.RunModeRestart}},
		{name: "default mode", input: models.RunRequest{LookalikeID: 1}},
		{name: "missing id", input: models.RunRequest{}, wantField: "lookalike_id", wantTag: "required"},
		{name: "negative id", input: models.RunRequest{LookalikeID: -4}, wantField: "lookalike_id", wantTag: "gt"},
		{name: "unknown mode", input: models.RunRequest{LookalikeID: 3, Mode: "rewind"}, wantField: "mode", wantTag: "run_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			verr := ValidateStruct(&tt.input)
			if tt.wantField == "" {
				if verr != nil {
					t.Fatalf("ValidateStruct() = %v, want nil", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("ValidateStruct() should have returned an error")
			}
			found := false
			for _, e := range verr.Errors() {
				if e.Field() == tt.wantField && e.Tag() == tt.wantTag {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s/%s, got %v", tt.wantField, tt.wantTag, verr)
			}
			if !verr.HasField(tt.wantField) {
				t.Errorf("HasField(%q) = false", tt.wantField)
			}
		})
	}
}

type scoringSettings struct {
	Strategy    string         `koanf:"default_strategy" validate:"strategy"`
	TargetSizes map[string]int `koanf:"target_sizes" validate:"dive,keys,target_size,endkeys,gt=0"`
	Workers     int            `koanf:"workers" validate:"min=1,max=256"`
	Name        string         `validate:"omitempty,min=3"`
}

type settings struct {
	Scoring scoringSettings `koanf:"scoring"`
}

func TestValidateStruct_CustomTags(t *testing.T) {
	t.Parallel()

	valid := settings{Scoring: scoringSettings{
		Strategy:    "ml",
		TargetSizes: map[string]int{"broad": 500000, "similar": 100000},
		Workers:     4,
	}}
	if verr := ValidateStruct(&valid); verr != nil {
		t.Fatalf("ValidateStruct(valid) = %v", verr)
	}

	invalid := settings{Scoring: scoringSettings{
		Strategy:    "neural",
		TargetSizes: map[string]int{"huge": 1, "broad": 0},
		Workers:     0,
		Name:        "ab",
	}}
	verr := ValidateStruct(&invalid)
	if verr == nil {
		t.Fatal("ValidateStruct(invalid) returned nil")
	}

	tags := make(map[string]bool)
	for _, e := range verr.Errors() {
		tags[e.Tag()] = true
	}
	for _, want := range []string{"strategy", "target_size", "gt", "min"} {
		if !tags[want] {
			t.Errorf("missing %q failure in %v", want, verr)
		}
	}

	msg := verr.Error()
	if !strings.Contains(msg, "scoring.default_strategy must be one of: ml, rule_based") {
		t.Errorf("message does not name the koanf path: %s", msg)
	}
	if !strings.Contains(msg, "Name must be at least 3 characters") {
		t.Errorf("message missing string min text: %s", msg)
	}
	if !verr.HasField("workers") {
		t.Error("HasField(workers) = false")
	}
}

func TestValidateStruct_NonStruct(t *testing.T) {
	t.Parallel()

	verr := ValidateStruct(42)
	if verr == nil {
		t.Fatal("expected error for non-struct input")
	}
	var target *RequestValidationError
	if !errors.As(error(verr), &target) {
		t.Error("errors.As failed for *RequestValidationError")
	}
	if verr.Errors()[0].Field() != "unknown" {
		t.Errorf("field = %q, want unknown", verr.Errors()[0].Field())
	}
}

func TestRequestValidationError_Empty(t *testing.T) {
	t.Parallel()

	if got := (&RequestValidationError{}).Error(); got != "validation failed" {
		t.Errorf("Error() = %q", got)
	}
}
