// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package topn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"sort"
	"testing"

	"github.com/tomtom215/lookalike/internal/models"
)

func TestHeapKeepsHighest(t *testing.T) {
	t.Parallel()

	h := New(5)
	for i := 0; i < 1000; i++ {
		h.Offer(fmt.Sprintf("c%04d", i), float64(i))
	}

	got := h.Sorted()
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i, want := range []string{"c0999", "c0998", "c0997", "c0996", "c0995"} {
		if got[i].CandidateID != want {
			t.Errorf("rank %d = %s, want %s", i, got[i].CandidateID, want)
		}
	}
	if th, ok := h.Threshold(); !ok || th != 995 {
		t.Errorf("Threshold = (%v, %v), want (995, true)", th, ok)
	}
}

func TestHeapMaxScorePerKey(t *testing.T) {
	t.Parallel()

	h := New(3)
	h.Offer("a", 1)
	h.Offer("a", 5)
	h.Offer("a", 2)
	if s, _ := h.Get("a"); s != 5 {
		t.Errorf("score for a = %v, want 5", s)
	}
	if h.Len() != 1 {
		t.Errorf("Len = %d, want 1", h.Len())
	}
}

func TestHeapTieBreakByKey(t *testing.T) {
	t.Parallel()

	h := New(2)
	h.Offer("c", 1)
	h.Offer("a", 1)
	h.Offer("b", 1)

	got := h.Sorted()
	want := []models.CandidateScore{{CandidateID: "a", Score: 1}, {CandidateID: "b", Score: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted = %v, want %v", got, want)
	}
}

func TestHeapRejectsNonFinite(t *testing.T) {
	t.Parallel()

	h := New(4)
	if h.Offer("nan", math.NaN()) {
		t.Error("NaN accepted")
	}
	if h.Offer("inf", math.Inf(1)) {
		t.Error("+Inf accepted")
	}
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
}

func TestHeapZeroCapacity(t *testing.T) {
	t.Parallel()

	h := New(0)
	if h.Offer("a", 1) {
		t.Error("zero-capacity heap accepted an entry")
	}
	if _, ok := h.Threshold(); ok {
		t.Error("zero-capacity heap reported a threshold")
	}
}

func TestHeapOrderIndependent(t *testing.T) {
	t.Parallel()

	type pair struct {
		key   string
		score float64
	}
	rng := rand.New(rand.NewPCG(1, 2))
	var pairs []pair
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("id%03d", rng.IntN(300)) // duplicates on purpose
		pairs = append(pairs, pair{key, float64(rng.IntN(50))})
	}

	reference := New(25)
	for _, p := range pairs {
		reference.Offer(p.key, p.score)
	}
	want := reference.Sorted()

	// Brute force: max per key, sort, take 25.
	best := make(map[string]float64)
	for _, p := range pairs {
		if s, ok := best[p.key]; !ok || p.score > s {
			best[p.key] = p.score
		}
	}
	var all []models.CandidateScore
	for k, s := range best {
		all = append(all, models.CandidateScore{CandidateID: k, Score: s})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].CandidateID < all[j].CandidateID
	})
	if !reflect.DeepEqual(want, all[:25]) {
		t.Fatalf("heap result differs from brute force\nheap:  %v\nbrute: %v", want, all[:25])
	}

	for trial := 0; trial < 20; trial++ {
		shuffled := append([]pair(nil), pairs...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		parts := make([]*Heap, 1+rng.IntN(6))
		for i := range parts {
			parts[i] = New(25)
		}
		for i, p := range shuffled {
			parts[i%len(parts)].Offer(p.key, p.score)
		}
		merged := New(25)
		for _, p := range parts {
			merged.Merge(p)
		}
		if got := merged.Sorted(); !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: merged result differs\ngot:  %v\nwant: %v", trial, got, want)
		}
	}
}

func TestOfferAll(t *testing.T) {
	t.Parallel()

	h := New(2)
	n := h.OfferAll([]string{"a", "b", "c"}, []float64{3, 1, 2})
	if n != 3 {
		t.Errorf("accepted = %d, want 3", n)
	}
	got := h.Sorted()
	if got[0].CandidateID != "a" || got[1].CandidateID != "c" {
		t.Errorf("Sorted = %v", got)
	}
}
