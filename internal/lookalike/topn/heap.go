// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

// Package topn keeps the highest-scoring candidates seen across a scan.
package topn

import (
	"math"
	"sort"
	"sync"

	"github.com/tomtom215/lookalike/internal/models"
)

// Entry is one retained candidate.
type Entry struct {
	Key   string
	Score float64
	index int // position in the heap array
}

// Heap is a bounded, keyed min-heap holding at most capacity candidates.
//
// The root is always the weakest retained entry, so an offer costs O(1) when
// rejected and O(log n) when accepted. Entries are ordered by score, then by
// key, which makes the retained set independent of the order offers arrive in.
// Each key keeps the maximum score offered for it.
type Heap struct {
	mu       sync.RWMutex
	heap     []*Entry
	byKey    map[string]*Entry
	capacity int
}

// New creates a heap retaining at most capacity entries.
func New(capacity int) *Heap {
	if capacity < 0 {
		capacity = 0
	}
	return &Heap{
		heap:     make([]*Entry, 0, min(capacity, 1<<16)),
		byKey:    make(map[string]*Entry, min(capacity, 1<<16)),
		capacity: capacity,
	}
}

// Offer submits a candidate score. It returns true if the heap changed.
// Non-finite scores are rejected.
func (h *Heap) Offer(key string, score float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offer(key, score)
}

// OfferAll submits a batch of scores under a single lock acquisition.
func (h *Heap) OfferAll(keys []string, scores []float64) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	accepted := 0
	for i := range keys {
		if h.offer(keys[i], scores[i]) {
			accepted++
		}
	}
	return accepted
}

// Merge offers every entry of other into h. other is left unchanged.
func (h *Heap) Merge(other *Heap) {
	if other == nil || other == h {
		return
	}
	entries := other.Entries()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		h.offer(e.CandidateID, e.Score)
	}
}

// Get returns the retained score for key.
func (h *Heap) Get(key string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.byKey[key]
	if !ok {
		return 0, false
	}
	return e.Score, true
}

// Threshold returns the weakest retained score once the heap is full.
func (h *Heap) Threshold() (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.capacity == 0 || len(h.heap) < h.capacity {
		return 0, false
	}
	return h.heap[0].Score, true
}

// Len returns the number of retained entries.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.heap)
}

// Entries returns the retained entries in no particular order.
func (h *Heap) Entries() []models.CandidateScore {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.CandidateScore, len(h.heap))
	for i, e := range h.heap {
		out[i] = models.CandidateScore{CandidateID: e.Key, Score: e.Score}
	}
	return out
}

// Sorted returns the retained entries by score descending, ties by key ascending.
func (h *Heap) Sorted() []models.CandidateScore {
	out := h.Entries()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return out
}

// Internal heap operations (must be called with lock held)

func (h *Heap) offer(key string, score float64) bool {
	if h.capacity == 0 || math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}

	if existing, ok := h.byKey[key]; ok {
		if score <= existing.Score {
			return false
		}
		existing.Score = score
		h.bubbleDown(existing.index)
		return true
	}

	if len(h.heap) < h.capacity {
		e := &Entry{Key: key, Score: score, index: len(h.heap)}
		h.heap = append(h.heap, e)
		h.byKey[key] = e
		h.bubbleUp(e.index)
		return true
	}

	root := h.heap[0]
	if !weaker(root.Key, root.Score, key, score) {
		return false
	}
	delete(h.byKey, root.Key)
	root.Key = key
	root.Score = score
	h.byKey[key] = root
	h.bubbleDown(0)
	return true
}

// weaker reports whether (ak, as) ranks below (bk, bs).
func weaker(ak string, as float64, bk string, bs float64) bool {
	if as != bs {
		return as < bs
	}
	return ak > bk
}

func (h *Heap) less(i, j int) bool {
	return weaker(h.heap[i].Key, h.heap[i].Score, h.heap[j].Key, h.heap[j].Score)
}

func (h *Heap) bubbleUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *Heap) bubbleDown(i int) {
	n := len(h.heap)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2

		if left < n && h.less(left, smallest) {
			smallest = left
		}
		if right < n && h.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}

func (h *Heap) swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.heap[i].index = i
	h.heap[j].index = j
}
