// Package anomaly detects unusual host behavior with per-host isolation
// forest models trained on recent samples.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Forest is a trained isolation forest. Scores follow the convention that
// more negative means more anomalous; Offset is the contamination quantile
// of the training scores, so a point scoring below it is an outlier.
type Forest struct {
	trees     []*treeNode
	subsample int
	offset    float64
}

type treeNode struct {
	// Internal node: split on feature at value.
	feature int
	value   float64
	left    *treeNode
	right   *treeNode
	// External node: number of training points that reached it.
	size int
}

func (n *treeNode) external() bool { return n.left == nil }

// FitConfig controls forest training.
type FitConfig struct {
	Trees         int     // number of isolation trees
	Subsample     int     // points sampled per tree (capped at the dataset size)
	Contamination float64 // expected outlier fraction, maps to the score offset
	Seed          int64   // rng seed for reproducible forests
}

// Fit trains an isolation forest on the given feature vectors. All vectors
// must have the same, nonzero length.
func Fit(data [][]float64, cfg FitConfig) (*Forest, error) {
	if len(data) == 0 {
		return nil, errors.New("no training data")
	}
	features := len(data[0])
	if features == 0 {
		return nil, errors.New("empty feature vectors")
	}
	for i, row := range data {
		if len(row) != features {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), features)
		}
	}

	subsample := cfg.Subsample
	if subsample > len(data) {
		subsample = len(data)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(subsample))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	f := &Forest{
		trees:     make([]*treeNode, cfg.Trees),
		subsample: subsample,
	}
	for i := range f.trees {
		sample := subsampleRows(data, subsample, rng)
		f.trees[i] = buildTree(sample, 0, heightLimit, rng)
	}

	// Offset = contamination quantile of training scores: the most-isolated
	// contamination fraction of the training set lands below it.
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.Score(row)
	}
	sort.Float64s(scores)
	f.offset = quantile(scores, cfg.Contamination)

	return f, nil
}

// Score returns the anomaly score for x; more negative = more anomalous.
func (f *Forest) Score(x []float64) float64 {
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, x, 0)
	}
	avg := total / float64(len(f.trees))
	// Standard isolation-forest anomaly score in (0, 1], negated so that
	// lower means more anomalous.
	return -math.Pow(2, -avg/avgPathLength(f.subsample))
}

// IsOutlier reports whether x scores below the trained offset.
func (f *Forest) IsOutlier(x []float64) bool {
	return f.Score(x) < f.offset
}

// Offset returns the trained outlier score threshold.
func (f *Forest) Offset() float64 { return f.offset }

func subsampleRows(data [][]float64, n int, rng *rand.Rand) [][]float64 {
	if n >= len(data) {
		return data
	}
	idx := rng.Perm(len(data))[:n]
	out := make([][]float64, n)
	for i, j := range idx {
		out[i] = data[j]
	}
	return out
}

func buildTree(data [][]float64, depth, heightLimit int, rng *rand.Rand) *treeNode {
	if depth >= heightLimit || len(data) <= 1 {
		return &treeNode{size: len(data)}
	}

	feature := rng.Intn(len(data[0]))
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	if lo == hi {
		// Constant feature at this node; no split possible.
		return &treeNode{size: len(data)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &treeNode{
		feature: feature,
		value:   split,
		left:    buildTree(left, depth+1, heightLimit, rng),
		right:   buildTree(right, depth+1, heightLimit, rng),
	}
}

func pathLength(n *treeNode, x []float64, depth int) float64 {
	if n.external() {
		return float64(depth) + avgPathLength(n.size)
	}
	if x[n.feature] < n.value {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

const eulerGamma = 0.5772156649015329

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points. Compensates for truncated trees.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// quantile returns the q-quantile of sorted values with linear interpolation.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
