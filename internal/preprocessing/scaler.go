package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardises features to zero mean and unit variance.
type Scaler struct {
	IsFitted    bool
	FeatureMean []float64
	FeatureStd  []float64
}

func NewStandardScaler() *Scaler {
	return &Scaler{}
}

func (s *Scaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("empty dataset")
	}

	nFeatures := len(X[0])
	for i, row := range X {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
	}

	s.fitStandard(X)
	s.IsFitted = true
	return nil
}

func (s *Scaler) NFeatures() int {
	if s.FeatureMean == nil {
		return -1
	}
	return len(s.FeatureMean)
}

// Transform returns a scaled copy of X. X is never modified.
func (s *Scaler) Transform(X [][]float64) ([][]float64, error) {
	if !s.IsFitted {
		return nil, fmt.Errorf("scaler must be fitted before transform")
	}

	result := make([][]float64, len(X))
	for i := range X {
		if n := s.NFeatures(); len(X[i]) != n {
			return nil, fmt.Errorf("row %d has %d features, scaler was fitted on %d", i, len(X[i]), n)
		}
		result[i] = s.TransformRow(X[i])
	}

	return result, nil
}

// TransformRow scales a single sample. The caller checks its width.
func (s *Scaler) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	floats.Sub(out, s.FeatureMean)
	floats.Div(out, s.FeatureStd)
	return out
}

func (s *Scaler) FitTransform(X [][]float64) ([][]float64, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// fitStandard uses the population standard deviation. Constant columns get a
// scale of 1.
func (s *Scaler) fitStandard(X [][]float64) {
	nFeatures := len(X[0])
	s.FeatureMean = make([]float64, nFeatures)
	s.FeatureStd = make([]float64, nFeatures)

	column := make([]float64, len(X))
	for j := 0; j < nFeatures; j++ {
		for i := range X {
			column[i] = X[i][j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		s.FeatureMean[j] = mean
		if std < 1e-12 || math.IsNaN(std) {
			std = 1
		}
		s.FeatureStd[j] = std
	}
}
