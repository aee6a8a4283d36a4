package models

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"
)

type RandomForest struct {
	BaseModel
	NTrees          int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Seed            int64
	Trees           []*DecisionTree
	Parallel        bool
	MaxWorkers      int
}

func NewRandomForest(nTrees, maxDepth, minSamplesSplit int) *RandomForest {
	return &RandomForest{
		NTrees:          nTrees,
		MaxDepth:        maxDepth,
		MinSamplesSplit: minSamplesSplit,
		MinSamplesLeaf:  1,
		Parallel:        true,
		MaxWorkers:      4,
		BaseModel: BaseModel{
			Name: "RandomForest",
			Params: map[string]any{
				"n_trees":           nTrees,
				"max_depth":         maxDepth,
				"min_samples_split": minSamplesSplit,
			},
		},
	}
}

// WithLeafAndSeed sets the minimum leaf size and the base seed; tree i is
// grown from seed+i so results do not depend on worker scheduling.
func (rf *RandomForest) WithLeafAndSeed(minSamplesLeaf int, seed int64) *RandomForest {
	rf.MinSamplesLeaf = minSamplesLeaf
	rf.Seed = seed
	rf.Params["min_samples_leaf"] = minSamplesLeaf
	rf.Params["seed"] = seed
	return rf
}

func (rf *RandomForest) Fit(X [][]float64, y []int) error {
	if err := checkFitInput(X, y); err != nil {
		return err
	}
	if rf.NTrees <= 0 {
		return fmt.Errorf("n_trees must be positive, got %d", rf.NTrees)
	}

	rf.Classes = ExtractClasses(y)
	nFeatures := len(X[0])

	rf.MaxFeatures = int(math.Sqrt(float64(nFeatures)))
	if rf.MaxFeatures < 1 {
		rf.MaxFeatures = 1
	}

	rf.Trees = make([]*DecisionTree, rf.NTrees)

	if rf.Parallel {
		return rf.trainParallel(X, y)
	}

	return rf.trainSequential(X, y)
}

func (rf *RandomForest) trainParallel(X [][]float64, y []int) error {
	var wg sync.WaitGroup
	errors := make([]error, rf.NTrees)

	workers := rf.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > rf.NTrees {
		workers = rf.NTrees
	}

	jobs := make(chan int, rf.NTrees)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				tree, err := rf.trainSingleTree(X, y, i)
				rf.Trees[i] = tree
				errors[i] = err
			}
		}()
	}

	for i := 0; i < rf.NTrees; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()

	for i, err := range errors {
		if err != nil {
			return fmt.Errorf("tree %d training failed: %w", i, err)
		}
	}

	return nil
}

func (rf *RandomForest) trainSequential(X [][]float64, y []int) error {
	for i := 0; i < rf.NTrees; i++ {
		tree, err := rf.trainSingleTree(X, y, i)
		if err != nil {
			return fmt.Errorf("tree %d training failed: %w", i, err)
		}
		rf.Trees[i] = tree
	}
	return nil
}

func (rf *RandomForest) trainSingleTree(X [][]float64, y []int, index int) (*DecisionTree, error) {
	seed := rf.Seed + int64(index)
	r := rand.New(rand.NewSource(seed))

	n := len(X)
	XBoot := make([][]float64, n)
	yBoot := make([]int, n)

	for i := 0; i < n; i++ {
		idx := r.Intn(n)
		XBoot[i] = X[idx]
		yBoot[i] = y[idx]
	}

	tree := NewDecisionTree(rf.MaxDepth, rf.MinSamplesSplit)
	tree.MinSamplesLeaf = rf.MinSamplesLeaf
	tree.MaxFeatures = rf.MaxFeatures
	tree.Seed = seed

	err := tree.fitWithClasses(XBoot, yBoot, rf.Classes, r)
	return tree, err
}

func (rf *RandomForest) Predict(X [][]float64) []int {
	proba := rf.PredictProba(X)
	predictions := make([]int, len(X))

	for i, p := range proba {
		predictions[i] = rf.Classes[floats.MaxIdx(p)]
	}

	return predictions
}

// PredictProba averages the leaf class distributions of all trees. Columns
// follow GetClasses.
func (rf *RandomForest) PredictProba(X [][]float64) [][]float64 {
	proba := make([][]float64, len(X))

	for i, sample := range X {
		acc := make([]float64, len(rf.Classes))
		for _, tree := range rf.Trees {
			floats.Add(acc, tree.leaf(sample).Proba)
		}

		total := floats.Sum(acc)
		if total > 0 {
			floats.Scale(1/total, acc)
		}
		proba[i] = acc
	}

	return proba
}
