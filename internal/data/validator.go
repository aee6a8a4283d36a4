package data

import (
	"fmt"
	"math"
	"sort"
)

type DataValidator struct{}

func NewDataValidator() *DataValidator {
	return &DataValidator{}
}

// ValidateDataset checks that X is non-empty, rectangular, finite and aligned
// with y.
func (dv *DataValidator) ValidateDataset(X [][]float64, y []int) error {
	if len(X) == 0 {
		return &DatasetFormatError{Reason: "dataset is empty"}
	}

	if len(X) != len(y) {
		return &DatasetFormatError{Reason: fmt.Sprintf("feature matrix and labels have different lengths: %d vs %d", len(X), len(y))}
	}

	nFeatures := len(X[0])
	if nFeatures == 0 {
		return &DatasetFormatError{Reason: "features cannot be empty"}
	}

	for i, sample := range X {
		if len(sample) != nFeatures {
			return &DatasetFormatError{Reason: fmt.Sprintf("inconsistent feature count at sample %d: expected %d, got %d", i, nFeatures, len(sample))}
		}
		for j, value := range sample {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return &DatasetFormatError{Reason: fmt.Sprintf("non-finite value at sample %d, feature %d", i, j)}
			}
		}
	}

	return nil
}

func (dv *DataValidator) ValidateLabels(y []int) error {
	if len(y) == 0 {
		return &DatasetFormatError{Reason: "labels are empty"}
	}

	classCount := make(map[int]int)
	for _, label := range y {
		classCount[label]++
	}

	if len(classCount) < 2 {
		return &DatasetFormatError{Reason: fmt.Sprintf("dataset must have at least 2 classes, found %d", len(classCount))}
	}

	return nil
}

// Summary describes a loaded dataset before it is encoded.
type Summary struct {
	Rows         int
	MinPixelLen  int
	MaxPixelLen  int
	MissingOil   int
	MissingWater int
	Labels       map[string]int
}

func (s Summary) LabelNames() []string {
	names := make([]string, 0, len(s.Labels))
	for name := range s.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Inspect(ds *Dataset) Summary {
	s := Summary{Labels: make(map[string]int)}
	if ds == nil || len(ds.Rows) == 0 {
		return s
	}

	s.Rows = len(ds.Rows)
	s.MaxPixelLen = ds.MaxPixelLen
	s.MinPixelLen = len(ds.Rows[0].Pixels)
	for _, row := range ds.Rows {
		if len(row.Pixels) < s.MinPixelLen {
			s.MinPixelLen = len(row.Pixels)
		}
		if math.IsNaN(row.Oil) {
			s.MissingOil++
		}
		if math.IsNaN(row.Water) {
			s.MissingWater++
		}
		s.Labels[row.Label]++
	}
	return s
}
