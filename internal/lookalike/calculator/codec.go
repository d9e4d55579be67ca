// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package calculator

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/tomtom215/lookalike/internal/models"
)

// formatVersion is bumped when the payload layout changes incompatibly.
const formatVersion = 1

// envelope is the on-disk form of every model.
type envelope struct {
	Strategy models.Strategy
	Version  int
	Checksum string
	Payload  []byte // gzip(gob(model))
}

// ErrCorruptModel is returned when a payload fails its checksum or cannot be decoded.
var ErrCorruptModel = errors.New("corrupt model payload")

func encodeModel(strategy models.Strategy, model any) ([]byte, string, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(model); err != nil {
		return nil, "", fmt.Errorf("encode model: %w", err)
	}
	sum := sha256.Sum256(raw.Bytes())
	checksum := hex.EncodeToString(sum[:])

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return nil, "", fmt.Errorf("compress model: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize compression: %w", err)
	}

	var out bytes.Buffer
	env := envelope{
		Strategy: strategy,
		Version:  formatVersion,
		Checksum: checksum,
		Payload:  compressed.Bytes(),
	}
	if err := gob.NewEncoder(&out).Encode(env); err != nil {
		return nil, "", fmt.Errorf("encode envelope: %w", err)
	}
	return out.Bytes(), checksum, nil
}

func decodeModel(data []byte, strategy models.Strategy, target any) (string, error) {
	env, err := readEnvelope(data)
	if err != nil {
		return "", err
	}
	if env.Strategy != strategy {
		return "", fmt.Errorf("%w: payload is %q, calculator is %q", ErrStrategyMismatch, env.Strategy, strategy)
	}
	if env.Version != formatVersion {
		return "", fmt.Errorf("%w: unsupported format version %d", ErrCorruptModel, env.Version)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(env.Payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	defer func() { _ = gzr.Close() }() //nolint:errcheck // read-only reader

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return "", fmt.Errorf("%w: checksum mismatch", ErrCorruptModel)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(target); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	return env.Checksum, nil
}

func readEnvelope(data []byte) (*envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrCorruptModel)
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	return &env, nil
}

// PeekStrategy returns the strategy a serialized model was produced by.
func PeekStrategy(data []byte) (models.Strategy, error) {
	env, err := readEnvelope(data)
	if err != nil {
		return "", err
	}
	return env.Strategy, nil
}
