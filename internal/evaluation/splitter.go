package evaluation

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

type TrainTestSplitter struct {
	testSize   float64
	randomSeed int64
	shuffle    bool
}

func NewTrainTestSplitter(testSize float64, randomSeed int64, shuffle bool) *TrainTestSplitter {
	return &TrainTestSplitter{
		testSize:   testSize,
		randomSeed: randomSeed,
		shuffle:    shuffle,
	}
}

func (tts *TrainTestSplitter) validate(X [][]float64, y []int) error {
	if len(X) != len(y) {
		return fmt.Errorf("x and y must have the same length")
	}

	if len(X) == 0 {
		return fmt.Errorf("cannot split empty dataset")
	}

	if tts.testSize <= 0 || tts.testSize >= 1 {
		return fmt.Errorf("test size must be between 0 and 1")
	}
	return nil
}

// StratifiedSplit holds out round(testSize * n_c) samples of every class c,
// at least one for classes with two or more samples and never the whole class.
// Rows are shared with X, not copied.
func (tts *TrainTestSplitter) StratifiedSplit(X [][]float64, y []int) ([][]float64, [][]float64, []int, []int, error) {
	if err := tts.validate(X, y); err != nil {
		return nil, nil, nil, nil, err
	}

	classIndices := make(map[int][]int)
	for i, label := range y {
		classIndices[label] = append(classIndices[label], i)
	}

	classes := make([]int, 0, len(classIndices))
	for class := range classIndices {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	var trainIndices, testIndices []int

	rng := rand.New(rand.NewSource(tts.randomSeed))
	for _, class := range classes {
		indices := classIndices[class]
		if tts.shuffle {
			rng.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}

		testCount := int(math.Round(float64(len(indices)) * tts.testSize))
		if testCount == 0 && len(indices) > 1 {
			testCount = 1
		}
		if testCount >= len(indices) {
			testCount = len(indices) - 1
		}

		trainCount := len(indices) - testCount
		trainIndices = append(trainIndices, indices[:trainCount]...)
		testIndices = append(testIndices, indices[trainCount:]...)
	}

	if len(testIndices) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("holdout split is empty: every class has a single sample")
	}

	if tts.shuffle {
		rng.Shuffle(len(trainIndices), func(i, j int) {
			trainIndices[i], trainIndices[j] = trainIndices[j], trainIndices[i]
		})
		rng.Shuffle(len(testIndices), func(i, j int) {
			testIndices[i], testIndices[j] = testIndices[j], testIndices[i]
		})
	}

	XTrain, yTrain := selectRows(X, y, trainIndices)
	XTest, yTest := selectRows(X, y, testIndices)

	return XTrain, XTest, yTrain, yTest, nil
}

// StratifiedFolds deals the indices of each class round-robin into nFolds
// folds after shuffling them.
func StratifiedFolds(y []int, nFolds int, seed int64) ([][]int, error) {
	if nFolds < 2 || nFolds > len(y) {
		return nil, fmt.Errorf("number of folds must be between 2 and %d", len(y))
	}

	classIndices := make(map[int][]int)
	for i, label := range y {
		classIndices[label] = append(classIndices[label], i)
	}
	classes := make([]int, 0, len(classIndices))
	for class := range classIndices {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	folds := make([][]int, nFolds)
	next := 0
	for _, class := range classes {
		indices := classIndices[class]
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		for _, idx := range indices {
			folds[next%nFolds] = append(folds[next%nFolds], idx)
			next++
		}
	}

	return folds, nil
}

func selectRows(X [][]float64, y []int, indices []int) ([][]float64, []int) {
	XOut := make([][]float64, len(indices))
	yOut := make([]int, len(indices))
	for i, idx := range indices {
		XOut[i] = X[idx]
		yOut[i] = y[idx]
	}
	return XOut, yOut
}
