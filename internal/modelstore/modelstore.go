// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package modelstore keeps serialized scoring models in BadgerDB, keyed by
// lookalike ID. A lookalike has at most one live model; Put replaces it.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/config"
)

const keyPrefix = "model:"

// closeTimeout bounds how long Close waits for badger to flush.
const closeTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when no model is stored for a lookalike.
	ErrNotFound = errors.New("model not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("model store is closed")
)

// Store is a BadgerDB-backed model artifact store. It is safe for
// concurrent use.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store. With cfg.InMemory nothing touches disk.
func Open(cfg *config.ModelStoreConfig, logger zerolog.Logger) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}
	// Models are gob payloads that are already gzip-compressed.
	opts.Compression = options.None
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "modelstore").Logger(),
	}
	s.logger.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Model store opened")
	return s, nil
}

// Key returns the badger key of a lookalike's model.
func Key(lookalikeID int64) []byte {
	return []byte(keyPrefix + strconv.FormatInt(lookalikeID, 10))
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores data as the model of a lookalike, replacing any previous one.
func (s *Store) Put(ctx context.Context, lookalikeID int64, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("model payload is empty")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(Key(lookalikeID), data))
	})
	if err != nil {
		return fmt.Errorf("store model %d: %w", lookalikeID, err)
	}
	s.logger.Debug().Int64("lookalike_id", lookalikeID).Int("bytes", len(data)).Msg("Model stored")
	return nil
}

// Get returns the stored model of a lookalike, or ErrNotFound.
func (s *Store) Get(ctx context.Context, lookalikeID int64) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(lookalikeID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load model %d: %w", lookalikeID, err)
	}
	return data, nil
}

// Delete removes the model of a lookalike. Deleting a missing model is not
// an error.
func (s *Store) Delete(ctx context.Context, lookalikeID int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(Key(lookalikeID))
	})
	if err != nil {
		return fmt.Errorf("delete model %d: %w", lookalikeID, err)
	}
	return nil
}

// RunGC reclaims value log space left by replaced models.
func (s *Store) RunGC(ratio float64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for {
		err := s.db.RunValueLogGC(ratio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close flushes and closes the store. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		s.logger.Info().Msg("Model store closed")
		return nil
	case <-time.After(closeTimeout):
		return fmt.Errorf("badgerdb close timeout after %v", closeTimeout)
	}
}
