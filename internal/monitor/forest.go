package monitor

import (
	"math"
	"math/rand"
	"sort"
)

// Tree-Ensemble Models
//
// Implementations of the two model families the monitor trains:
//   1. Forest — bootstrap-aggregated CART trees with per-leaf class
//      distributions, exposing the Classes / PredictProba contract
//   2. IsolationForest — random-split isolation trees scoring how
//      easily a point separates from the training mass; negative
//      decision scores mark outliers
//
// Both take an explicit rand source, so training is reproducible for
// a fixed input order.

// Forest sizing
const (
	forestSize   = 100
	maxTreeDepth = 10
	minSplitSize = 2
)

// treeNode is one CART node. Interior nodes route on Feature against
// Threshold; leaves carry a class distribution aligned with the
// owning forest's class list.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      *treeNode
	Right     *treeNode
	Probs     []float64
}

func (n *treeNode) isLeaf() bool { return n.Left == nil && n.Right == nil }

// Forest is a bootstrap-aggregated tree ensemble over encoded class
// labels
type Forest struct {
	Trees     []*treeNode
	ClassList []int
}

// TrainForest fits forestSize trees on bootstrap resamples of X.
// y holds encoded class labels. rng drives both resampling and
// per-split feature sampling.
func TrainForest(X [][]float64, y []int, rng *rand.Rand) *Forest {
	classes := distinctSorted(y)
	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	encoded := make([]int, len(y))
	for i, v := range y {
		encoded[i] = pos[v]
	}

	mtry := int(math.Sqrt(float64(len(X[0]))))
	if mtry < 1 {
		mtry = 1
	}

	forest := &Forest{ClassList: classes}
	for t := 0; t < forestSize; t++ {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = rng.Intn(len(X))
		}
		forest.Trees = append(forest.Trees, growTree(X, encoded, idx, len(classes), 0, mtry, rng))
	}
	return forest
}

// Classes returns the encoded labels the forest predicts over, ascending
func (f *Forest) Classes() []int { return f.ClassList }

// PredictProba returns one probability per class, averaged over all trees
func (f *Forest) PredictProba(x []float64) []float64 {
	probs := make([]float64, len(f.ClassList))
	if len(f.Trees) == 0 {
		return probs
	}
	for _, tree := range f.Trees {
		node := tree
		for !node.isLeaf() {
			if x[node.Feature] <= node.Threshold {
				node = node.Left
			} else {
				node = node.Right
			}
		}
		for i, p := range node.Probs {
			probs[i] += p
		}
	}
	for i := range probs {
		probs[i] /= float64(len(f.Trees))
	}
	return probs
}

// Predict returns the encoded class with the highest mean probability
func (f *Forest) Predict(x []float64) int {
	return f.ClassList[argmax(f.PredictProba(x))]
}

func growTree(X [][]float64, y []int, idx []int, nClasses, depth, mtry int, rng *rand.Rand) *treeNode {
	counts := classCounts(y, idx, nClasses)
	if depth >= maxTreeDepth || len(idx) < minSplitSize || isPure(counts) {
		return leafNode(counts, len(idx))
	}

	feature, threshold, ok := bestSplit(X, y, idx, nClasses, mtry, rng)
	if !ok {
		return leafNode(counts, len(idx))
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      growTree(X, y, left, nClasses, depth+1, mtry, rng),
		Right:     growTree(X, y, right, nClasses, depth+1, mtry, rng),
	}
}

func leafNode(counts []int, total int) *treeNode {
	probs := make([]float64, len(counts))
	if total > 0 {
		for i, c := range counts {
			probs[i] = float64(c) / float64(total)
		}
	}
	return &treeNode{Probs: probs}
}

// bestSplit scans randomly sampled features with a sorted sweep and
// returns the (feature, threshold) pair with the best Gini gain. The
// scan inspects mtry features, continuing past that only while no
// valid split has turned up.
func bestSplit(X [][]float64, y []int, idx []int, nClasses, mtry int, rng *rand.Rand) (int, float64, bool) {
	total := len(idx)
	parent := gini(classCounts(y, idx, nClasses), total)

	bestGain := 1e-9
	var bestFeature int
	var bestThreshold float64
	found := false

	order := make([]int, len(idx))
	for fi, feature := range rng.Perm(len(X[0])) {
		if fi >= mtry && found {
			break
		}
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][feature] < X[order[b]][feature] })

		left := make([]int, nClasses)
		right := classCounts(y, idx, nClasses)
		nLeft := 0

		for v := 0; v < len(order)-1; v++ {
			i := order[v]
			left[y[i]]++
			right[y[i]]--
			nLeft++

			cur, next := X[i][feature], X[order[v+1]][feature]
			if cur == next {
				continue
			}

			w := float64(nLeft) / float64(total)
			impurity := w*gini(left, nLeft) + (1-w)*gini(right, total-nLeft)
			if gain := parent - impurity; gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (cur + next) / 2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

// Isolation forest sizing. The decision offset is anchored so the most
// isolated tenth of the training data scores negative.
const (
	isoForestSize    = 100
	isoSampleCap     = 256
	isoContamination = 0.10
)

// isoNode is one node of an isolation tree. Leaves record how many
// training points they absorbed.
type isoNode struct {
	Feature   int
	Threshold float64
	Left      *isoNode
	Right     *isoNode
	Size      int
}

// IsolationForest assigns behavioural outlier scores. The decision
// function is positive for points that blend into the training mass
// and negative for the isolated tail.
type IsolationForest struct {
	Trees  []*isoNode
	Sample int
	Offset float64
}

// TrainIsolationForest fits isoForestSize random-split trees on
// sub-samples of X
func TrainIsolationForest(X [][]float64, rng *rand.Rand) *IsolationForest {
	sample := len(X)
	if sample > isoSampleCap {
		sample = isoSampleCap
	}
	height := 0
	if sample > 1 {
		height = int(math.Ceil(math.Log2(float64(sample))))
	}

	forest := &IsolationForest{Sample: sample}
	for t := 0; t < isoForestSize; t++ {
		idx := rng.Perm(len(X))[:sample]
		forest.Trees = append(forest.Trees, growIsoTree(X, idx, 0, height, rng))
	}

	scores := make([]float64, len(X))
	for i, x := range X {
		scores[i] = forest.scoreSample(x)
	}
	forest.Offset = percentile(scores, isoContamination*100)
	return forest
}

// DecisionFunction scores x against the training distribution;
// negative values mark outliers
func (f *IsolationForest) DecisionFunction(x []float64) float64 {
	return f.scoreSample(x) - f.Offset
}

// scoreSample is the negated anomaly score, in (-1, 0): closer to -1
// means more isolated
func (f *IsolationForest) scoreSample(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	norm := avgPathLength(f.Sample)
	if norm == 0 {
		return -1
	}
	mean := 0.0
	for _, tree := range f.Trees {
		mean += isoPath(tree, x)
	}
	mean /= float64(len(f.Trees))
	return -math.Pow(2, -mean/norm)
}

func growIsoTree(X [][]float64, idx []int, depth, height int, rng *rand.Rand) *isoNode {
	if depth >= height || len(idx) <= 1 {
		return &isoNode{Size: len(idx)}
	}
	feature, lo, hi, ok := spreadFeature(X, idx, rng)
	if !ok {
		return &isoNode{Size: len(idx)}
	}
	threshold := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if X[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &isoNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      growIsoTree(X, left, depth+1, height, rng),
		Right:     growIsoTree(X, right, depth+1, height, rng),
	}
}

// spreadFeature samples features in random order until one with
// distinct values turns up, scanning at most one full round
func spreadFeature(X [][]float64, idx []int, rng *rand.Rand) (int, float64, float64, bool) {
	for _, feature := range rng.Perm(len(X[0])) {
		lo, hi := X[idx[0]][feature], X[idx[0]][feature]
		for _, i := range idx[1:] {
			v := X[i][feature]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

func isoPath(node *isoNode, x []float64) float64 {
	depth := 0.0
	for node.Left != nil && node.Right != nil {
		if x[node.Feature] < node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
		depth++
	}
	return depth + avgPathLength(node.Size)
}

const eulerGamma = 0.5772156649

// avgPathLength is the expected unsuccessful-search depth of a binary
// search tree holding n points
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		impurity -= p * p
	}
	return impurity
}

func classCounts(y []int, idx []int, nClasses int) []int {
	counts := make([]int, nClasses)
	for _, i := range idx {
		counts[y[i]]++
	}
	return counts
}

func isPure(counts []int) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func distinctSorted(y []int) []int {
	seen := make(map[int]struct{})
	var classes []int
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			classes = append(classes, v)
		}
	}
	sort.Ints(classes)
	return classes
}

// percentile returns the p-th linear-interpolated percentile of values
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
