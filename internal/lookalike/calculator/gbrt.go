// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package calculator

import (
	"context"
	"math/rand/v2"
	"sort"
)

// Node is one node of a regression tree stored in a flat array. Leaves carry
// Value; internal nodes send x[Feature] <= Threshold to Left.
type Node struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Value     float64
	Leaf      bool
}

// Tree is a regression tree. Nodes[0] is the root.
type Tree struct {
	Nodes []Node
}

// Predict walks the tree for one encoded vector.
func (t *Tree) Predict(x []float64) float64 {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// boostParams are the resolved hyperparameters of one training run.
type boostParams struct {
	trees        int
	learningRate float64
	maxDepth     int
	minLeaf      int
	subsample    float64
	seed         uint64
}

// boostResult is the fitted ensemble.
type boostResult struct {
	base  float64
	trees []Tree
}

// fitBoosted fits squared-loss gradient boosting on (x, y). slotWeights
// scales each feature's split gain so heavier significant fields are
// preferred when splits are otherwise comparable.
func fitBoosted(ctx context.Context, x [][]float64, y, slotWeights []float64, p boostParams) (*boostResult, error) {
	n := len(y)
	res := &boostResult{}
	for _, v := range y {
		res.base += v
	}
	res.base /= float64(n)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = res.base
	}
	resid := make([]float64, n)
	rng := rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15)) //nolint:gosec // deterministic sampling, not security

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	sampleSize := n
	if p.subsample > 0 && p.subsample < 1 {
		sampleSize = max(1, int(float64(n)*p.subsample))
	}

	for t := 0; t < p.trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var sse float64
		for i := range resid {
			resid[i] = y[i] - pred[i]
			sse += resid[i] * resid[i]
		}
		if sse < 1e-12 {
			break
		}

		idx := all
		if sampleSize < n {
			perm := rng.Perm(n)
			idx = perm[:sampleSize]
		}

		b := &treeBuilder{x: x, r: resid, weights: slotWeights, maxDepth: p.maxDepth, minLeaf: p.minLeaf}
		b.build(append([]int(nil), idx...), 0)
		tree := Tree{Nodes: b.nodes}
		if len(tree.Nodes) == 1 && tree.Nodes[0].Value == 0 {
			break
		}

		for i := range pred {
			pred[i] += p.learningRate * tree.Predict(x[i])
		}
		res.trees = append(res.trees, tree)
	}
	return res, nil
}

// treeBuilder grows one regression tree on residuals by exhaustive split search.
type treeBuilder struct {
	x        [][]float64
	r        []float64
	weights  []float64
	maxDepth int
	minLeaf  int
	nodes    []Node
}

// build appends the subtree for idx and returns its node index.
func (b *treeBuilder) build(idx []int, depth int) int32 {
	var sum float64
	for _, i := range idx {
		sum += b.r[i]
	}
	self := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Leaf: true, Value: sum / float64(len(idx))})

	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, sum)
	if !ok {
		return self
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return self
}

func (b *treeBuilder) bestSplit(idx []int, total float64) (int, float64, bool) {
	n := float64(len(idx))
	parent := total * total / n
	bestGain := 1e-12
	bestFeature, bestThreshold, found := 0, 0.0, false

	sorted := make([]int, len(idx))
	width := len(b.x[idx[0]])
	for f := 0; f < width; f++ {
		w := 1.0
		if f < len(b.weights) {
			w = b.weights[f]
		}
		if w <= 0 {
			continue
		}

		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		var leftSum float64
		for k := 1; k < len(sorted); k++ {
			leftSum += b.r[sorted[k-1]]
			if k < b.minLeaf || len(sorted)-k < b.minLeaf {
				continue
			}
			lo, hi := b.x[sorted[k-1]][f], b.x[sorted[k]][f]
			if lo == hi {
				continue
			}
			nl, nr := float64(k), n-float64(k)
			rightSum := total - leftSum
			gain := (leftSum*leftSum/nl + rightSum*rightSum/nr - parent) * w
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
