package models

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

type TreeNode struct {
	IsLeaf           bool
	Class            int
	Proba            []float64
	Feature          int
	Threshold        float64
	Left             *TreeNode
	Right            *TreeNode
	Samples          int
	Impurity         float64
	ImpurityDecrease float64
}

type DecisionTree struct {
	BaseModel
	Root                *TreeNode
	MaxDepth            int
	MinSamplesSplit     int
	MinSamplesLeaf      int
	MinImpurityDecrease float64
	// MaxFeatures limits the features tried at each split; 0 tries all.
	MaxFeatures int
	Seed        int64
}

func NewDecisionTree(maxDepth, minSamplesSplit int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = 10
	}

	if minSamplesSplit <= 0 {
		minSamplesSplit = 2
	}

	return &DecisionTree{
		MaxDepth:        maxDepth,
		MinSamplesSplit: minSamplesSplit,
		MinSamplesLeaf:  1,
		BaseModel: BaseModel{
			Name: "DecisionTree",
			Params: map[string]any{
				"max_depth":         maxDepth,
				"min_samples_split": minSamplesSplit,
			},
		},
	}
}

// fitWithClasses grows the tree on a bootstrap sample. Leaf distributions are
// laid out over classes, which may include labels absent from y.
func (dt *DecisionTree) fitWithClasses(X [][]float64, y []int, classes []int, r *rand.Rand) error {
	if dt.MinSamplesLeaf < 1 {
		dt.MinSamplesLeaf = 1
	}
	dt.Classes = classes

	classIndex := make(map[int]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	encoded := make([]int, len(y))
	for i, label := range y {
		idx, ok := classIndex[label]
		if !ok {
			return fmt.Errorf("label %d is not among the declared classes", label)
		}
		encoded[i] = idx
	}

	indices := make([]int, len(X))
	for i := range indices {
		indices[i] = i
	}

	b := &treeBuilder{tree: dt, X: X, y: encoded, nClasses: len(classes), rng: r}
	dt.Root = b.build(indices, 0)
	return nil
}

type treeBuilder struct {
	tree     *DecisionTree
	X        [][]float64
	y        []int
	nClasses int
	rng      *rand.Rand
}

func (b *treeBuilder) build(indices []int, depth int) *TreeNode {
	dt := b.tree
	counts := b.classCounts(indices)
	n := len(indices)

	node := &TreeNode{
		Samples:  n,
		Impurity: gini(counts, float64(n)),
		Proba:    normalize(counts),
		Class:    dt.Classes[floats.MaxIdx(counts)],
	}

	if depth >= dt.MaxDepth ||
		n < dt.MinSamplesSplit ||
		n < 2*dt.MinSamplesLeaf ||
		node.Impurity == 0 {

		node.IsLeaf = true
		return node
	}

	feature, threshold, decrease, found := b.findBestSplit(indices, counts, node.Impurity)
	if !found || decrease <= dt.MinImpurityDecrease {
		node.IsLeaf = true
		return node
	}

	var left, right []int
	for _, idx := range indices {
		if b.X[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}

	node.Feature = feature
	node.Threshold = threshold
	node.ImpurityDecrease = decrease
	node.Left = b.build(left, depth+1)
	node.Right = b.build(right, depth+1)

	return node
}

// findBestSplit scans sorted values of each candidate feature and returns the
// midpoint threshold with the largest Gini decrease that leaves at least
// MinSamplesLeaf samples on each side.
func (b *treeBuilder) findBestSplit(indices []int, parentCounts []float64, parentImpurity float64) (int, float64, float64, bool) {
	dt := b.tree
	n := len(indices)
	nf := float64(n)

	bestFeature := -1
	bestThreshold := 0.0
	bestDecrease := 0.0

	order := make([]int, n)
	leftCounts := make([]float64, b.nClasses)
	rightCounts := make([]float64, b.nClasses)

	for _, feature := range b.candidateFeatures() {
		copy(order, indices)
		sort.Slice(order, func(i, j int) bool {
			return b.X[order[i]][feature] < b.X[order[j]][feature]
		})

		for k := range leftCounts {
			leftCounts[k] = 0
		}
		copy(rightCounts, parentCounts)

		for p := 0; p < n-1; p++ {
			cls := b.y[order[p]]
			leftCounts[cls]++
			rightCounts[cls]--

			current := b.X[order[p]][feature]
			next := b.X[order[p+1]][feature]
			if current == next {
				continue
			}

			leftN := p + 1
			rightN := n - leftN
			if leftN < dt.MinSamplesLeaf || rightN < dt.MinSamplesLeaf {
				continue
			}

			weighted := (float64(leftN)/nf)*gini(leftCounts, float64(leftN)) +
				(float64(rightN)/nf)*gini(rightCounts, float64(rightN))
			decrease := parentImpurity - weighted

			if decrease > bestDecrease+1e-12 {
				threshold := current + (next-current)/2
				if threshold >= next {
					threshold = current
				}
				bestFeature = feature
				bestThreshold = threshold
				bestDecrease = decrease
			}
		}
	}

	return bestFeature, bestThreshold, bestDecrease, bestFeature >= 0
}

func (b *treeBuilder) candidateFeatures() []int {
	nFeatures := len(b.X[0])
	features := make([]int, nFeatures)
	for i := range features {
		features[i] = i
	}

	k := b.tree.MaxFeatures
	if k <= 0 || k >= nFeatures {
		return features
	}

	for i := 0; i < k; i++ {
		j := i + b.rng.Intn(nFeatures-i)
		features[i], features[j] = features[j], features[i]
	}
	return features[:k]
}

func (b *treeBuilder) classCounts(indices []int) []float64 {
	counts := make([]float64, b.nClasses)
	for _, idx := range indices {
		counts[b.y[idx]]++
	}
	return counts
}

func (dt *DecisionTree) leaf(sample []float64) *TreeNode {
	node := dt.Root
	for !node.IsLeaf {
		if sample[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}

	impurity := 1.0
	for _, count := range counts {
		p := count / n
		impurity -= p * p
	}
	if impurity < 1e-15 {
		return 0
	}
	return impurity
}

func normalize(counts []float64) []float64 {
	out := make([]float64, len(counts))
	total := floats.Sum(counts)
	if total == 0 {
		return out
	}
	copy(out, counts)
	floats.Scale(1/total, out)
	return out
}

func checkFitInput(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("cannot fit on an empty dataset")
	}
	if len(X) != len(y) {
		return fmt.Errorf("x and y must have the same length: %d vs %d", len(X), len(y))
	}
	if len(X[0]) == 0 {
		return fmt.Errorf("samples have no features")
	}
	return nil
}
