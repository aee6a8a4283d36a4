package evaluation

import (
	"fmt"
	"sync"

	"github.com/Demedah/Appsjiabao/internal/models"
	"gonum.org/v1/gonum/stat"
)

// ModelFactory returns a fresh, unfitted model for each fold.
type ModelFactory func() models.Model

type CrossValidator struct {
	NFolds     int
	RandomSeed int64
	Parallel   bool
	MaxWorkers int
}

func NewCrossValidator(nFolds int, seed int64) *CrossValidator {
	return &CrossValidator{
		NFolds:     nFolds,
		RandomSeed: seed,
		Parallel:   true,
		MaxWorkers: 4,
	}
}

// CrossValidate returns the per-fold accuracies with their mean and
// sample standard deviation.
func (cv *CrossValidator) CrossValidate(X [][]float64, y []int, newModel ModelFactory) ([]float64, float64, float64, error) {
	if len(X) != len(y) {
		return nil, 0, 0, fmt.Errorf("x and y must have the same length")
	}

	folds, err := StratifiedFolds(y, cv.NFolds, cv.RandomSeed)
	if err != nil {
		return nil, 0, 0, err
	}

	scores := make([]float64, len(folds))
	errors := make([]error, len(folds))

	if !cv.Parallel {
		for i, testIndices := range folds {
			score, err := cv.evaluateFold(X, y, newModel, testIndices)
			if err != nil {
				return nil, 0, 0, fmt.Errorf("fold %d failed: %w", i, err)
			}
			scores[i] = score
		}
		mean, std := cv.calculateStats(scores)
		return scores, mean, std, nil
	}

	workers := cv.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(folds) {
		workers = len(folds)
	}

	type foldJob struct {
		index       int
		testIndices []int
	}

	jobs := make(chan foldJob, len(folds))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				score, err := cv.evaluateFold(X, y, newModel, job.testIndices)
				scores[job.index] = score
				errors[job.index] = err
			}
		}()
	}

	for i, fold := range folds {
		jobs <- foldJob{index: i, testIndices: fold}
	}
	close(jobs)

	wg.Wait()

	for i, err := range errors {
		if err != nil {
			return nil, 0, 0, fmt.Errorf("fold %d failed: %w", i, err)
		}
	}

	mean, std := cv.calculateStats(scores)
	return scores, mean, std, nil
}

func (cv *CrossValidator) evaluateFold(X [][]float64, y []int, newModel ModelFactory, testIndices []int) (float64, error) {
	testSet := make(map[int]bool, len(testIndices))
	for _, idx := range testIndices {
		testSet[idx] = true
	}

	trainIndices := make([]int, 0, len(X)-len(testIndices))
	for i := range X {
		if !testSet[i] {
			trainIndices = append(trainIndices, i)
		}
	}

	XTrain, yTrain := selectRows(X, y, trainIndices)
	XTest, yTest := selectRows(X, y, testIndices)

	model := newModel()
	if err := model.Fit(XTrain, yTrain); err != nil {
		return 0, err
	}

	predictions := model.Predict(XTest)

	correct := 0
	for i, pred := range predictions {
		if pred == yTest[i] {
			correct++
		}
	}

	return float64(correct) / float64(len(yTest)), nil
}

func (cv *CrossValidator) calculateStats(scores []float64) (mean, std float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	if len(scores) == 1 {
		return scores[0], 0
	}
	return stat.MeanStdDev(scores, nil)
}
